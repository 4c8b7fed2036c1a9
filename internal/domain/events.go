package domain

import (
	"time"
)

// EventType names something that happened during a sampling run.
type EventType string

const (
	RunStarted      EventType = "RunStarted"
	RunStopped      EventType = "RunStopped"
	SampleCollected EventType = "SampleCollected"
	SampleFailed    EventType = "SampleFailed"
	TickCompleted   EventType = "TickCompleted"
	TickOverrun     EventType = "TickOverrun"
	SummaryReported EventType = "SummaryReported"
	BudgetExhausted EventType = "BudgetExhausted"
)

// Event is published on the event bus. ID is assigned by the bus in
// publish order; RunID ties every event to the run that produced it.
type Event struct {
	ID        int64                  `json:"id"`
	RunID     string                 `json:"run_id"`
	EventType EventType              `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
	CreatedAt time.Time              `json:"created_at"`
}

// =============================================================================
// Type-safe event data accessors
// =============================================================================

// GetString safely extracts a string field from EventData.
// Returns the value and true if found and is a string, otherwise empty string and false.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt64 safely extracts an int64 field from EventData.
// Handles the integer kinds the services publish and float64 from JSON.
func (e *Event) GetInt64(key string) (int64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetInt64Or extracts an int64 field or returns the default value.
func (e *Event) GetInt64Or(key string, defaultVal int64) int64 {
	if v, ok := e.GetInt64(key); ok {
		return v
	}
	return defaultVal
}

// GetFloat64 safely extracts a float64 field from EventData.
func (e *Event) GetFloat64(key string) (float64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetFloat64Or extracts a float64 field or returns the default value.
func (e *Event) GetFloat64Or(key string, defaultVal float64) float64 {
	if v, ok := e.GetFloat64(key); ok {
		return v
	}
	return defaultVal
}

// GetBool safely extracts a bool field from EventData.
func (e *Event) GetBool(key string) (bool, bool) {
	if e.EventData == nil {
		return false, false
	}
	v, ok := e.EventData[key].(bool)
	return v, ok
}

// GetBoolOr extracts a bool field or returns the default value.
func (e *Event) GetBoolOr(key string, defaultVal bool) bool {
	if v, ok := e.GetBool(key); ok {
		return v
	}
	return defaultVal
}

// =============================================================================
// Typed event data structures
// =============================================================================

// SampleEventData contains data for SampleCollected events.
type SampleEventData struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CPULoad        float64 `json:"cpu_load"`
	CPUSys         float64 `json:"cpu_sys"`
	CPUIdle        float64 `json:"cpu_idle"`
	MemUsed        uint64  `json:"mem_used"`
	MemFree        uint64  `json:"mem_free"`
	NetUp          float64 `json:"net_up"`
	NetDown        float64 `json:"net_down"`
}

// Map converts the data into EventData form.
func (d SampleEventData) Map() map[string]interface{} {
	return map[string]interface{}{
		"elapsed_seconds": d.ElapsedSeconds,
		"cpu_load":        d.CPULoad,
		"cpu_sys":         d.CPUSys,
		"cpu_idle":        d.CPUIdle,
		"mem_used":        d.MemUsed,
		"mem_free":        d.MemFree,
		"net_up":          d.NetUp,
		"net_down":        d.NetDown,
	}
}

// ParseSampleEventData extracts typed sample data from an event.
func (e *Event) ParseSampleEventData() (SampleEventData, bool) {
	load, ok := e.GetFloat64("cpu_load")
	if !ok {
		return SampleEventData{}, false
	}
	return SampleEventData{
		ElapsedSeconds: e.GetFloat64Or("elapsed_seconds", 0),
		CPULoad:        load,
		CPUSys:         e.GetFloat64Or("cpu_sys", 0),
		CPUIdle:        e.GetFloat64Or("cpu_idle", 0),
		MemUsed:        uint64(e.GetInt64Or("mem_used", 0)),
		MemFree:        uint64(e.GetInt64Or("mem_free", 0)),
		NetUp:          e.GetFloat64Or("net_up", 0),
		NetDown:        e.GetFloat64Or("net_down", 0),
	}, true
}

// TickEventData contains data for TickCompleted and TickOverrun events.
type TickEventData struct {
	Seq          int64   `json:"seq"`
	WorkSeconds  float64 `json:"work_seconds"`
	SleptSeconds float64 `json:"slept_seconds"`
	Overrun      bool    `json:"overrun"`
}

// Map converts the data into EventData form.
func (d TickEventData) Map() map[string]interface{} {
	return map[string]interface{}{
		"seq":           d.Seq,
		"work_seconds":  d.WorkSeconds,
		"slept_seconds": d.SleptSeconds,
		"overrun":       d.Overrun,
	}
}

// ParseTickEventData extracts typed tick data from an event.
func (e *Event) ParseTickEventData() (TickEventData, bool) {
	seq, ok := e.GetInt64("seq")
	if !ok {
		return TickEventData{}, false
	}
	return TickEventData{
		Seq:          seq,
		WorkSeconds:  e.GetFloat64Or("work_seconds", 0),
		SleptSeconds: e.GetFloat64Or("slept_seconds", 0),
		Overrun:      e.GetBoolOr("overrun", false),
	}, true
}
