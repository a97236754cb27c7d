package models

import (
	"fmt"
	"time"
)

type SignalStatus string

const (
	SignalStatusWorking   SignalStatus = "working"
	SignalStatusFaulty    SignalStatus = "faulty"
	SignalStatusRepairing SignalStatus = "repairing"
)

// DefaultGeoFenceRadius is the detection radius in meters given to new signals.
const DefaultGeoFenceRadius = 500

// UnknownInstaller is recorded when the registering identity has neither name nor email.
const UnknownInstaller = "Unknown"

type SignalInstallation struct {
	ID             string       `json:"-"`
	LightID        string       `json:"lightId"`
	Location       GeoPoint     `json:"location"`
	Altitude       *float64     `json:"altitude,omitempty"`
	Direction      int          `json:"direction"`
	GeoFenceRadius int          `json:"geoFenceRadius"`
	Status         SignalStatus `json:"status"`
	InstalledAt    time.Time    `json:"installedAt"`
	RegisteredBy   string       `json:"registeredBy"`
}

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewGeoPoint(lat, lng float64) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, fmt.Errorf("latitude out of range: %v", lat)
	}
	if lng < -180 || lng > 180 {
		return GeoPoint{}, fmt.Errorf("longitude out of range: %v", lng)
	}
	return GeoPoint{Latitude: lat, Longitude: lng}, nil
}

type SystemLog struct {
	ID        string    `json:"-"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
