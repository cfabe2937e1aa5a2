package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message is a normalized inbound signal. ActionTaken flips to true once and
// never reverts.
type Message struct {
	ID        string `gorm:"primaryKey;type:varchar(120)"`
	ChannelID string `gorm:"type:varchar(64);not null;index"`
	Sender    string `gorm:"type:varchar(200)"`
	Content   string `gorm:"type:text;not null"`

	HasAction   bool `gorm:"not null;default:false;index"`
	ActionTaken bool `gorm:"not null;default:false;index"`

	Raw datatypes.JSON

	Timestamp time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Message) TableName() string {
	return "telegram_messages"
}

type ChannelType string

const (
	ChannelTypeChannel    ChannelType = "channel"
	ChannelTypeGroup      ChannelType = "group"
	ChannelTypeSupergroup ChannelType = "supergroup"
)

type Channel struct {
	ID            string      `gorm:"primaryKey;type:varchar(64)"`
	Name          string      `gorm:"type:varchar(200)"`
	Username      string      `gorm:"type:varchar(120)"`
	Type          ChannelType `gorm:"type:varchar(20);not null;default:'channel'"`
	Active        bool        `gorm:"not null;default:true;index"`
	MessagesCount int64       `gorm:"not null;default:0"`
	LastMessageAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Channel) TableName() string {
	return "telegram_channels"
}
