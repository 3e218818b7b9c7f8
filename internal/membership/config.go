package membership

import (
	"time"

	perrors "github.com/peerview/hyparview/pkg/errors"
)

// Config holds the parameters of spec.md §6, read once at init unless
// noted otherwise.
type Config struct {
	MaxActiveSize  int
	MinActiveSize  int
	MaxPassiveSize int

	ARWL int // Active Random Walk Length
	PRWL int // Passive Random Walk Length

	Tag          Tag
	Reservations []Tag

	RandomPromotion bool

	PassiveViewShufflePeriod time.Duration
	TreeRefreshPeriod        time.Duration
	RelayTTL                 int
	Broadcast                bool

	DataDir string // empty disables epoch persistence

	DisableFastReceive bool
}

// DefaultConfig returns the defaults listed in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxActiveSize:            6,
		MinActiveSize:            3,
		MaxPassiveSize:           30,
		ARWL:                     6,
		PRWL:                     6,
		RandomPromotion:          true,
		PassiveViewShufflePeriod: 10 * time.Second,
		TreeRefreshPeriod:        1 * time.Second,
		RelayTTL:                 6,
		Broadcast:                false,
		DisableFastReceive:       true,
	}
}

// Validate enforces the one fatal precondition the spec calls out:
// the number of reserved tags must not exceed max_active_size.
func (c Config) Validate() error {
	if len(c.Reservations) > c.MaxActiveSize {
		return perrors.ErrReservationLimitExceeded
	}
	return nil
}
