package api

import (
	"github.com/mr1hm/go-green-corridor/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func point(p models.GeoPoint, altitude *float64) Geometry {
	coords := []float64{p.Longitude, p.Latitude}
	if altitude != nil {
		coords = append(coords, *altitude)
	}
	return Geometry{Type: "Point", Coordinates: coords}
}

// signalsToGeoJSON projects installations for the client map. Direction and
// radius let the map draw each signal's approach cone.
func signalsToGeoJSON(signals []models.SignalInstallation) FeatureCollection {
	features := make([]Feature, 0, len(signals))

	for _, s := range signals {
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: point(s.Location, s.Altitude),
			Properties: map[string]any{
				"id":             s.ID,
				"lightId":        s.LightID,
				"direction":      s.Direction,
				"geoFenceRadius": s.GeoFenceRadius,
				"status":         s.Status,
				"installedAt":    s.InstalledAt,
				"registeredBy":   s.RegisteredBy,
			},
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}

func alertsToGeoJSON(alerts []models.EmergencyAlert) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for _, a := range alerts {
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: point(a.Location, nil),
			Properties: map[string]any{
				"id":          a.ID,
				"type":        a.Type,
				"status":      a.Status,
				"description": a.Description,
				"timestamp":   a.CreatedAt,
			},
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
