package automation

import (
	"testing"
	"time"
)

func TestStateCondition_Evaluate(t *testing.T) {
	run := newRunContext(newFakeClock(baseTime))
	run.Entities["light.hall"] = EntityState{
		State:      "on",
		Attributes: map[string]any{"brightness": float64(80)},
	}

	tests := []struct {
		name  string
		setup func(*StateCondition)
		want  bool
	}{
		{"exact match", func(c *StateCondition) { c.State = "on" }, true},
		{"exact mismatch", func(c *StateCondition) { c.State = "off" }, false},
		{"state_not met", func(c *StateCondition) { c.StateNot = "off" }, true},
		{"state_not violated", func(c *StateCondition) { c.StateNot = "on" }, false},
		{"attribute match", func(c *StateCondition) {
			c.Attribute = "brightness"
			c.State = "80"
		}, true},
		{"regex pattern", func(c *StateCondition) {
			c.State = "regex:o[nf]+"
			c.Match = true
		}, true},
		{"regex no match", func(c *StateCondition) {
			c.State = "regex:standby.*"
			c.Match = true
		}, false},
		{"invalid regex", func(c *StateCondition) {
			c.State = "regex:([unclosed"
			c.Match = true
		}, false},
		{"glob pattern", func(c *StateCondition) {
			c.State = "glob:o*"
			c.Match = true
		}, true},
		{"glob question mark", func(c *StateCondition) {
			c.State = "glob:o?"
			c.Match = true
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := NewStateCondition("c1", "light.hall")
			tt.setup(cond)
			if got := cond.Evaluate(run); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("missing entity", func(t *testing.T) {
		cond := NewStateCondition("c1", "light.ghost")
		cond.State = "on"
		if cond.Evaluate(run) {
			t.Error("met for a missing entity")
		}
	})

	t.Run("disabled fails open", func(t *testing.T) {
		cond := NewStateCondition("c1", "light.hall")
		cond.State = "off" // would not be met
		cond.SetEnabled(false)
		if !cond.Evaluate(run) {
			t.Error("disabled condition should evaluate true")
		}
	})
}

func TestNumericStateCondition_Evaluate(t *testing.T) {
	run := newRunContext(newFakeClock(baseTime))
	run.Entities["sensor.temperature"] = EntityState{State: "22.5"}

	above := 20.0
	below := 25.0

	cond := NewNumericStateCondition("c1", "sensor.temperature")
	cond.Above = &above
	cond.Below = &below

	if !cond.Evaluate(run) {
		t.Error("expected 22.5 inside (20, 25)")
	}

	// Exclusive bounds
	run.Entities["sensor.temperature"] = EntityState{State: "20"}
	if cond.Evaluate(run) {
		t.Error("lower bound should be exclusive")
	}

	run.Entities["sensor.temperature"] = EntityState{State: "not-a-number"}
	if cond.Evaluate(run) {
		t.Error("non-numeric state should not be met")
	}
}

func TestTimeCondition_Evaluate(t *testing.T) {
	// 2026-06-01 08:30 UTC is a Monday
	run := newRunContext(newFakeClock(baseTime))

	t.Run("window met", func(t *testing.T) {
		cond := NewTimeCondition("c1")
		cond.After = "08:00:00"
		cond.Before = "09:00:00"
		if !cond.Evaluate(run) {
			t.Error("expected 08:30 inside [08:00, 09:00]")
		}
	})

	t.Run("window not met", func(t *testing.T) {
		cond := NewTimeCondition("c1")
		cond.After = "09:00:00"
		cond.Before = "17:00:00"
		if cond.Evaluate(run) {
			t.Error("08:30 should be outside [09:00, 17:00]")
		}
	})

	t.Run("window requires both bounds", func(t *testing.T) {
		cond := NewTimeCondition("c1")
		cond.After = "09:00:00" // Before unset: window check skipped
		if !cond.Evaluate(run) {
			t.Error("single bound should not restrict")
		}
	})

	t.Run("parse error not met", func(t *testing.T) {
		cond := NewTimeCondition("c1")
		cond.After = "morning"
		cond.Before = "evening"
		if cond.Evaluate(run) {
			t.Error("unparseable bounds should not be met")
		}
	})

	t.Run("weekday filter", func(t *testing.T) {
		cond := NewTimeCondition("c1")
		cond.Weekdays = []string{"saturday", "sunday"}
		if cond.Evaluate(run) {
			t.Error("Monday should not match a weekend filter")
		}
		cond.Weekdays = []string{"monday"}
		if !cond.Evaluate(run) {
			t.Error("expected Monday to match")
		}
	})
}

func TestTemplateCondition_Evaluate(t *testing.T) {
	run := newRunContext(newFakeClock(baseTime))
	run.Entities["sensor.lux"] = EntityState{State: "12"}

	cond := NewTemplateCondition("c1", `{{ lt (stateFloat "sensor.lux") 50.0 }}`)
	if !cond.Evaluate(run) {
		t.Error("expected truthy template to be met")
	}

	run.Entities["sensor.lux"] = EntityState{State: "800"}
	if cond.Evaluate(run) {
		t.Error("falsy template should not be met")
	}

	t.Run("render error not met", func(t *testing.T) {
		bad := NewTemplateCondition("c2", `{{ unclosed`)
		if bad.Evaluate(run) {
			t.Error("render error should not be met")
		}
	})
}

func TestDeviceCondition_Evaluate(t *testing.T) {
	run := newRunContext(newFakeClock(baseTime))
	run.Devices = map[string]Device{
		"dev1": {
			ID:       "dev1",
			Domain:   "light",
			Type:     "dimmer",
			State:    "online",
			Entities: []string{"light.hall", "sensor.hall_power"},
		},
	}

	tests := []struct {
		name  string
		setup func(*DeviceCondition)
		want  bool
	}{
		{"device exists", func(c *DeviceCondition) {}, true},
		{"domain match", func(c *DeviceCondition) { c.Domain = "light" }, true},
		{"domain mismatch", func(c *DeviceCondition) { c.Domain = "switch" }, false},
		{"type match", func(c *DeviceCondition) { c.Kind = "dimmer" }, true},
		{"entity membership", func(c *DeviceCondition) { c.EntityID = "light.hall" }, true},
		{"entity not on device", func(c *DeviceCondition) { c.EntityID = "light.kitchen" }, false},
		{"state match", func(c *DeviceCondition) { c.State = "online" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := NewDeviceCondition("c1", "dev1")
			tt.setup(cond)
			if got := cond.Evaluate(run); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("missing device", func(t *testing.T) {
		cond := NewDeviceCondition("c1", "ghost")
		if cond.Evaluate(run) {
			t.Error("met for a missing device")
		}
	})

	t.Run("empty state treated as unknown", func(t *testing.T) {
		run.Devices["dev2"] = Device{ID: "dev2"}
		cond := NewDeviceCondition("c1", "dev2")
		cond.State = "unknown"
		if !cond.Evaluate(run) {
			t.Error("empty device state should compare as unknown")
		}
	})
}

func TestZoneCondition_Evaluate(t *testing.T) {
	run := newRunContext(newFakeClock(baseTime))
	run.Entities["person.alice"] = EntityState{
		State:      "home",
		Attributes: map[string]any{"zone": "home"},
	}

	cond := NewZoneCondition("c1", "person.alice", "home")
	if !cond.Evaluate(run) {
		t.Error("expected zone match")
	}

	away := NewZoneCondition("c2", "person.alice", "work")
	if away.Evaluate(run) {
		t.Error("zone mismatch should not be met")
	}
}

func TestSunCondition_Evaluate(t *testing.T) {
	sunrise := time.Date(2026, 6, 1, 4, 45, 0, 0, time.UTC)
	sunset := time.Date(2026, 6, 1, 20, 15, 0, 0, time.UTC)

	newRun := func(at time.Time) *Context {
		run := newRunContext(newFakeClock(at))
		run.SunEvents["sunrise"] = sunrise
		run.SunEvents["sunset"] = sunset
		return run
	}

	t.Run("after sunset", func(t *testing.T) {
		cond := NewSunCondition("c1")
		cond.After = "sunset"
		if cond.Evaluate(newRun(time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC))) {
			t.Error("19:00 is before sunset")
		}
		if !cond.Evaluate(newRun(time.Date(2026, 6, 1, 21, 0, 0, 0, time.UTC))) {
			t.Error("21:00 is after sunset")
		}
	})

	t.Run("before sunrise with offset", func(t *testing.T) {
		cond := NewSunCondition("c1")
		cond.Before = "sunrise"
		cond.BeforeOffset = 30 * time.Minute
		// Boundary shifts to 05:15
		if !cond.Evaluate(newRun(time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC))) {
			t.Error("05:00 should be before sunrise+30m")
		}
		if cond.Evaluate(newRun(time.Date(2026, 6, 1, 5, 30, 0, 0, time.UTC))) {
			t.Error("05:30 should be after sunrise+30m")
		}
	})

	t.Run("missing event skips bound", func(t *testing.T) {
		cond := NewSunCondition("c1")
		cond.After = "sunset"
		run := newRunContext(newFakeClock(baseTime))
		if !cond.Evaluate(run) {
			t.Error("missing sun data should skip the bound")
		}
	})
}

func TestCompositeConditions(t *testing.T) {
	run := newRunContext(newFakeClock(baseTime))
	run.Entities["light.hall"] = EntityState{State: "on"}
	run.Entities["binary_sensor.motion"] = EntityState{State: "off"}

	met := NewStateCondition("met", "light.hall")
	met.State = "on"
	notMet := NewStateCondition("notmet", "binary_sensor.motion")
	notMet.State = "on"

	t.Run("and", func(t *testing.T) {
		if NewAndCondition("and1", met, notMet).Evaluate(run) {
			t.Error("and with a false child should not be met")
		}
		if !NewAndCondition("and2", met, met).Evaluate(run) {
			t.Error("and with all true children should be met")
		}
		if !NewAndCondition("and3").Evaluate(run) {
			t.Error("empty and should be met")
		}
	})

	t.Run("or", func(t *testing.T) {
		if !NewOrCondition("or1", notMet, met).Evaluate(run) {
			t.Error("or with a true child should be met")
		}
		if NewOrCondition("or2", notMet, notMet).Evaluate(run) {
			t.Error("or with no true children should not be met")
		}
		if NewOrCondition("or3").Evaluate(run) {
			t.Error("empty or should not be met")
		}
	})

	t.Run("not", func(t *testing.T) {
		if NewNotCondition("not1", met).Evaluate(run) {
			t.Error("not of a met condition should not be met")
		}
		if !NewNotCondition("not2", notMet).Evaluate(run) {
			t.Error("not of an unmet condition should be met")
		}
	})

	t.Run("nested", func(t *testing.T) {
		inner := NewOrCondition("inner", notMet, met)
		outer := NewAndCondition("outer", met, inner, NewNotCondition("neg", notMet))
		if !outer.Evaluate(run) {
			t.Error("expected nested composite to be met")
		}
	})
}

func TestConditionSerialize(t *testing.T) {
	above := 18.0
	cond := NewNumericStateCondition("c1", "sensor.temperature")
	cond.Above = &above

	data := cond.Serialize()
	if data["condition_id"] != "c1" {
		t.Errorf("condition_id = %v", data["condition_id"])
	}
	if data["condition_type"] != "numeric_state" {
		t.Errorf("condition_type = %v", data["condition_type"])
	}
	if data["above"] != 18.0 {
		t.Errorf("above = %v, want 18", data["above"])
	}
	if data["below"] != nil {
		t.Errorf("below = %v, want nil", data["below"])
	}

	t.Run("composite", func(t *testing.T) {
		and := NewAndCondition("and1", cond)
		data := and.Serialize()
		children, ok := data["conditions"].([]map[string]any)
		if !ok || len(children) != 1 {
			t.Fatalf("conditions = %v", data["conditions"])
		}
		if children[0]["condition_id"] != "c1" {
			t.Errorf("child condition_id = %v", children[0]["condition_id"])
		}
	})
}
