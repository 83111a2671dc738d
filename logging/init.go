package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// init will instantiate the global logger and set up some global parameters from the zerolog package.
func init() {
	// Instantiate the global logger, disabled until configured by the campaign entry points.
	GlobalLogger = NewLogger(zerolog.Disabled, false)

	// Set up stack trace support and set the timestamp format to UNIX.
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}
