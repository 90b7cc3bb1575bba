package entity

import "time"

// Machine 机台档案（机台目录由外部系统维护，本服务只读）
type Machine struct {
	ID       string `json:"id" gorm:"primaryKey;size:32"`
	Name     string `json:"name" gorm:"size:200;not null"`
	Number   string `json:"number" gorm:"size:50;uniqueIndex"`
	Model    string `json:"model" gorm:"size:100"`
	Customer string `json:"customer" gorm:"size:100"`
	Product  string `json:"product" gorm:"size:100"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Machine) TableName() string {
	return "machines"
}
