package service

import "time"

// 符号化时间段
const (
	RangeToday = "today"
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeYear  = "year"
)

// ResolveTimeRange 把符号化时间段解析成本地时间的 [start, end) 窗口。
// now 由调用方注入，便于测试。
func ResolveTimeRange(name string, now time.Time) (time.Time, time.Time, error) {
	switch name {
	case RangeToday, "":
		start := startOfDay(now)
		return start, endOfDay(now), nil
	case RangeWeek:
		// 最近的周日零点到今天结束
		start := startOfDay(now.AddDate(0, 0, -int(now.Weekday())))
		return start, endOfDay(now), nil
	case RangeMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		lastDay := start.AddDate(0, 1, -1)
		return start, endOfDay(lastDay), nil
	case RangeYear:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		end := time.Date(now.Year(), time.December, 31, 0, 0, 0, 0, now.Location())
		return start, endOfDay(end), nil
	default:
		return time.Time{}, time.Time{}, validationError("unknown time range %q", name)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
