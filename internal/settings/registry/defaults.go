package registry

import (
	"fmt"
	"time"

	"github.com/lotkeeper/lotkeeper/internal/settings/conflict"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// Category names of the parking operations catalog.
const (
	CategoryBusiness     = "business"
	CategoryUITheme      = "ui_theme"
	CategorySystemLimits = "system_limits"
	CategoryLocalization = "localization"
)

// graceWithinMaxStay rejects a grace period longer than the maximum
// stay it is supposed to soften.
func graceWithinMaxStay(values map[string]value.Value) string {
	grace, okG := values["grace_period_minutes"]
	maxStay, okM := values["max_stay_hours"]
	if !okG || !okM {
		return ""
	}

	graceMin, okG := grace.AsFloat()
	maxHours, okM := maxStay.AsFloat()
	if !okG || !okM {
		return ""
	}

	if graceMin > maxHours*60 {
		return fmt.Sprintf("grace_period_minutes (%v) exceeds max_stay_hours (%v)", graceMin, maxHours)
	}

	return ""
}

// Default returns the compiled-in catalog for the parking operations
// backend.
func Default() *Registry {
	specs := []CategorySpec{
		{
			Name:        CategoryBusiness,
			Description: "Parking business rules",
			CacheTTL:    time.Hour,
			Strategy:    conflict.ServerWins,
			CrossChecks: []CrossCheck{graceWithinMaxStay},
		},
		{
			Name:        CategoryUITheme,
			Description: "Dashboard appearance",
			CacheTTL:    6 * time.Hour,
			Strategy:    conflict.MergeDeep,
		},
		{
			Name:        CategorySystemLimits,
			Description: "Operational limits",
			CacheTTL:    30 * time.Second,
			Strategy:    conflict.ServerWins,
		},
		{
			Name:        CategoryLocalization,
			Description: "Locale and formatting",
			CacheTTL:    6 * time.Hour,
			Strategy:    conflict.TimestampBased,
		},
	}

	defs := []Definition{
		{
			Category:    CategoryBusiness,
			Key:         "max_stay_hours",
			Kind:        value.KindInt,
			Default:     value.Int(24),
			Description: "Maximum continuous parking duration in hours",
			Rule:        "min=1,max=168",
			SortOrder:   10,
		},
		{
			Category:    CategoryBusiness,
			Key:         "grace_period_minutes",
			Kind:        value.KindInt,
			Default:     value.Int(15),
			Description: "Minutes after expiry before overstay fees apply",
			Rule:        "min=0,max=120",
			SortOrder:   20,
		},
		{
			Category:    CategoryBusiness,
			Key:         "currency_symbol",
			Kind:        value.KindString,
			Default:     value.String("$"),
			Description: "Symbol shown on receipts and dashboards",
			Rule:        "min=1,max=4",
			SortOrder:   30,
		},
		{
			Category:    CategoryBusiness,
			Key:         "overstay_fee_multiplier",
			Kind:        value.KindFloat,
			Default:     value.Float(1.5),
			Description: "Hourly rate multiplier once the grace period ends",
			Rule:        "min=1,max=10",
			SortOrder:   40,
		},
		{
			Category:    CategoryBusiness,
			Key:         "reserved_spot_ratio",
			Kind:        value.KindFloat,
			Default:     value.Float(0.1),
			Description: "Share of spots held back for reservations",
			Rule:        "min=0,max=1",
			SortOrder:   50,
		},
		{
			Category:        CategoryUITheme,
			Key:             "primary_color",
			Kind:            value.KindString,
			Default:         value.String("#2563eb"),
			Description:     "Accent color of the operator dashboard",
			Rule:            "hexcolor",
			SortOrder:       10,
			UserOverridable: true,
		},
		{
			Category:    CategoryUITheme,
			Key:         "logo_url",
			Kind:        value.KindString,
			Default:     value.String(""),
			Description: "Optional custom logo, empty for the default",
			Rule:        "omitempty,url",
			SortOrder:   20,
		},
		{
			Category:        CategoryUITheme,
			Key:             "compact_tables",
			Kind:            value.KindBool,
			Default:         value.Bool(false),
			Description:     "Dense row layout in vehicle listings",
			SortOrder:       30,
			UserOverridable: true,
		},
		{
			Category: CategoryUITheme,
			Key:      "default_dashboard",
			Kind:     value.KindObject,
			Default: value.Object(map[string]value.Value{
				"layout":           value.String("grid"),
				"refresh_seconds":  value.Int(60),
				"occupancy_widget": value.Bool(true),
				"revenue_widget":   value.Bool(true),
			}),
			Description:     "Widget arrangement shown after login",
			SortOrder:       40,
			UserOverridable: true,
		},
		{
			Category:    CategorySystemLimits,
			Key:         "max_active_vehicles",
			Kind:        value.KindInt,
			Default:     value.Int(500),
			Description: "Hard cap on simultaneously tracked vehicles",
			Rule:        "min=1,max=100000",
			SortOrder:   10,
		},
		{
			Category:    CategorySystemLimits,
			Key:         "session_timeout_minutes",
			Kind:        value.KindInt,
			Default:     value.Int(30),
			Description: "Operator session idle timeout",
			Rule:        "min=5,max=480",
			SortOrder:   20,
		},
		{
			Category:    CategorySystemLimits,
			Key:         "plate_scan_retry_limit",
			Kind:        value.KindInt,
			Default:     value.Int(3),
			Description: "Camera re-scans before manual entry is required",
			Rule:        "min=1,max=10",
			SortOrder:   30,
		},
		{
			Category:    CategorySystemLimits,
			Key:         "gate_api_token",
			Kind:        value.KindString,
			Default:     value.String(""),
			Description: "Shared secret for the barrier gate controller",
			SortOrder:   40,
			Sensitive:   true,
		},
		{
			Category:        CategoryLocalization,
			Key:             "locale",
			Kind:            value.KindString,
			Default:         value.String("en-US"),
			Description:     "BCP 47 interface language tag",
			Rule:            "bcp47_language_tag",
			SortOrder:       10,
			UserOverridable: true,
		},
		{
			Category:    CategoryLocalization,
			Key:         "timezone",
			Kind:        value.KindString,
			Default:     value.String("UTC"),
			Description: "IANA timezone of the location",
			Rule:        "timezone",
			SortOrder:   20,
		},
		{
			Category:        CategoryLocalization,
			Key:             "date_format",
			Kind:            value.KindString,
			Default:         value.String("2006-01-02"),
			Description:     "Go reference layout for displayed dates",
			Rule:            "min=1",
			SortOrder:       30,
			UserOverridable: true,
		},
	}

	return New(specs, defs)
}
