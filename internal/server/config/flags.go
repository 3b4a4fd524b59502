package config

import (
	"flag"
	"os"
	"time"

	"github.com/avolkov/quantvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8443")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      recovery request TTL, hours
//	-w int      expiry sweep interval, minutes (0 disables the sweeper)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-r", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	recoveryRequestTTL := fs.Int("r", int(config.RecoveryRequestTTL.Hours()), "recovery request TTL (in hours)")
	expirySweepInterval := fs.Int("w", int(config.ExpirySweepInterval.Minutes()), "expiry sweep interval (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RecoveryRequestTTL = time.Duration(*recoveryRequestTTL) * time.Hour
	config.ExpirySweepInterval = time.Duration(*expirySweepInterval) * time.Minute
}
