package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jgoulah/delcoscraper/pkg/models"
)

// Sensor describes one Home Assistant sensor entity
type Sensor struct {
	Key         string
	Name        string
	DeviceClass string
	StateClass  string
	Unit        string
	Precision   int
}

// Sensors are the entities published for the account
var Sensors = []Sensor{
	{Key: "water_usage", Name: "Water Usage", DeviceClass: "water", StateClass: "total_increasing", Unit: "gal", Precision: 0},
	{Key: "water_cost", Name: "Total Bill Last Period", DeviceClass: "monetary", StateClass: "total", Unit: "USD", Precision: 2},
	{Key: "previous_balance", Name: "Previous Balance", DeviceClass: "monetary", Unit: "USD", Precision: 2},
	{Key: "payments_received", Name: "Payments Received", DeviceClass: "monetary", Unit: "USD", Precision: 2},
	{Key: "account_balance", Name: "Balance Due", DeviceClass: "monetary", Unit: "USD", Precision: 2},
}

// device groups all entities under one service in Home Assistant
type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	EntryType    string   `json:"entry_type"`
}

type discoveryConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	ObjectID          string `json:"object_id"`
	StateTopic        string `json:"state_topic"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DisplayPrecision  int    `json:"suggested_display_precision"`
	Device            device `json:"device"`
}

// discoveryPayload builds the retained config message for a sensor
func discoveryPayload(s Sensor, accountID, stateTopic string) ([]byte, error) {
	id := "delco_water"
	if accountID != "" {
		id = fmt.Sprintf("delco_water_%s", accountID)
	}

	cfg := discoveryConfig{
		Name:              s.Name,
		UniqueID:          fmt.Sprintf("%s_%s", id, s.Key),
		ObjectID:          fmt.Sprintf("delco_water_%s", s.Key),
		StateTopic:        stateTopic,
		DeviceClass:       s.DeviceClass,
		StateClass:        s.StateClass,
		UnitOfMeasurement: s.Unit,
		DisplayPrecision:  s.Precision,
		Device: device{
			Identifiers:  []string{id},
			Name:         "Del-Co Water",
			Manufacturer: "Del-Co Water Company",
			Model:        "Water Service",
			EntryType:    "service",
		},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding discovery config for %s: %w", s.Key, err)
	}
	return data, nil
}

// SensorValues derives the sensor states from the latest snapshot and the
// most recent monthly usage point. Sensors with no source data are left out.
func SensorValues(snap *models.AccountSnapshot, latest *models.UsagePoint) map[string]decimal.Decimal {
	values := make(map[string]decimal.Decimal)
	if latest != nil {
		values["water_usage"] = latest.ValueHGAL.Mul(models.GallonsPerHGAL)
	}
	if snap != nil {
		values["water_cost"] = snap.LastBillAmount
		values["previous_balance"] = snap.PreviousBalance
		values["payments_received"] = snap.PaymentsReceived.Abs()
		values["account_balance"] = snap.Balance
	}
	return values
}
