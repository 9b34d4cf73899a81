package database

import (
	"errors"
	"fmt"

	"kazi/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const sampleTriggerName = "High value order alert"

// Seed inserts a sample event trigger unless it already exists.
func Seed(db *gorm.DB) error {
	var existing models.Trigger
	err := db.Where("name = ?", sampleTriggerName).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	eventType := "order.created"
	entityType := "order"
	trig := models.Trigger{
		Name:        sampleTriggerName,
		Description: "Logs and posts a webhook when an order above 1000 is created",
		TriggerType: models.TriggerTypeEvent,
		EventType:   &eventType,
		EntityType:  &entityType,
		Priority:    10,
		IsActive:    true,
		UserID:      "system",
		Conditions: []models.TriggerCondition{
			{Field: "amount", Operator: "greater_than", Value: models.NewConditionValue(1000), OrderIndex: 0},
			{Field: "status", Operator: "not_equals", Value: models.NewConditionValue("cancelled"), LogicOperator: models.LogicAnd, OrderIndex: 1},
		},
		Actions: []models.TriggerAction{
			{ActionType: "log", ActionConfig: datatypes.JSONMap{"message": "high value order"}, OrderIndex: 0, IsActive: true},
			{ActionType: "webhook", ActionConfig: datatypes.JSONMap{"url": "http://localhost:9000/hooks/orders", "method": "POST"}, OrderIndex: 1, IsActive: false},
		},
	}
	if err := db.Create(&trig).Error; err != nil {
		return fmt.Errorf("seed trigger: %w", err)
	}
	logrus.Infof("Created sample trigger %s", trig.ID)
	return nil
}
