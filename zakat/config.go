package zakat

import (
	"github.com/Eiad-Soufan/zakati-backend/money"
)

// Checkpoint is a remaining-days value at which a reminder is sent.
type Checkpoint struct {
	Days     int
	Tag      string
	Priority Priority
}

// Config holds every constant the engine uses. It is passed in at
// construction; nothing is read from the environment here.
type Config struct {
	GoldNisabGrams   money.Money
	SilverNisabGrams money.Money
	ZakatRate        money.Money

	// Checkpoints are used in normal mode, matched against remaining days.
	Checkpoints []Checkpoint

	// TestMode shortens the zakat year to TestCycleDays and switches
	// remaining time and checkpoints to hours.
	TestMode            bool
	TestCycleDays       int
	TestCheckpointHours []int
}

// DefaultCheckpoints are 10 and 3 days before, the due day, and 3 days after.
func DefaultCheckpoints() []Checkpoint {
	return []Checkpoint{
		{Days: 10, Tag: "T-10", Priority: PriorityImportant},
		{Days: 3, Tag: "T-3", Priority: PriorityImportant},
		{Days: 0, Tag: "T0", Priority: PriorityImportant},
		{Days: -3, Tag: "T+3", Priority: PriorityNormal},
	}
}

// DefaultConfig uses 85 g of pure gold, 595 g of silver and a 2.5% rate.
func DefaultConfig() Config {
	return Config{
		GoldNisabGrams:      money.FromInt(85),
		SilverNisabGrams:    money.FromInt(595),
		ZakatRate:           money.MustParse("0.025"),
		Checkpoints:         DefaultCheckpoints(),
		TestCycleDays:       1,
		TestCheckpointHours: []int{6, 1, 0, -6},
	}
}
