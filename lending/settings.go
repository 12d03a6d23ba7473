package lending

import "sort"

// Setting keys as stored in the settings table.
const (
	SettingMaxPersonalLoans = "max_personal_loans"
	SettingLoanPeriodDays   = "loan_period_days"
	SettingBlacklistDays    = "blacklist_days"
	SettingOverdueGraceDays = "overdue_grace_days"
	SettingDeviceLoanDays   = "device_loan_days"
)

const (
	defaultMaxPersonalLoans = 3
	defaultLoanPeriodDays   = 14
	defaultBlacklistDays    = 30
	defaultOverdueGraceDays = 30
	defaultDeviceLoanDays   = 7
)

// Settings parameterize the lending rules. They are read inside every transaction,
// so changes apply to the next operation without a restart.
type Settings struct {
	MaxPersonalLoans int
	LoanPeriodDays   int
	BlacklistDays    int
	OverdueGraceDays int
	DeviceLoanDays   int
}

// DefaultSettings returns the values used when the settings store lacks a key.
func DefaultSettings() Settings {
	return Settings{
		MaxPersonalLoans: defaultMaxPersonalLoans,
		LoanPeriodDays:   defaultLoanPeriodDays,
		BlacklistDays:    defaultBlacklistDays,
		OverdueGraceDays: defaultOverdueGraceDays,
		DeviceLoanDays:   defaultDeviceLoanDays,
	}
}

// SettingKeys lists all known keys in a stable order.
func SettingKeys() []string {
	keys := make([]string, 0, len(DefaultSettings().Values()))
	for key := range DefaultSettings().Values() {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Values returns the settings keyed by their storage keys.
func (s Settings) Values() map[string]int {
	return map[string]int{
		SettingMaxPersonalLoans: s.MaxPersonalLoans,
		SettingLoanPeriodDays:   s.LoanPeriodDays,
		SettingBlacklistDays:    s.BlacklistDays,
		SettingOverdueGraceDays: s.OverdueGraceDays,
		SettingDeviceLoanDays:   s.DeviceLoanDays,
	}
}

// With returns a copy of s with key set to value.
func (s Settings) With(key string, value int) (Settings, error) {
	if value < 0 {
		return s, ErrInvalidSetting
	}

	switch key {
	case SettingMaxPersonalLoans:
		s.MaxPersonalLoans = value
	case SettingLoanPeriodDays:
		s.LoanPeriodDays = value
	case SettingBlacklistDays:
		s.BlacklistDays = value
	case SettingOverdueGraceDays:
		s.OverdueGraceDays = value
	case SettingDeviceLoanDays:
		if value == 0 {
			return s, ErrInvalidSetting
		}
		s.DeviceLoanDays = value
	default:
		return s, ErrUnknownSetting
	}

	return s, nil
}

// SettingsFrom overlays stored values on the defaults. Unknown keys are ignored.
func SettingsFrom(stored map[string]int) Settings {
	settings := DefaultSettings()

	for key, value := range stored {
		if next, err := settings.With(key, value); err == nil {
			settings = next
		}
	}

	return settings
}
