package main

import (
	"fmt"
	"os"

	"github.com/telecare/signaling-service/config"
	"github.com/telecare/signaling-service/internal/security"

	"github.com/spf13/cobra"
)

var version = "v0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "signaling-service",
	Short:   "WebRTC signaling relay for telehealth video calls",
	Long:    `signaling-service relays SDP offers/answers, ICE candidates and in-call control events (recording, consent, chat) between the doctor and patient of a video appointment.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $CONFIG_PATH or ./config/config.yaml)")

	rootCmd.AddCommand(serveCmd, tokenCmd, censusCmd)
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.LoadConfig()
}

func newJWT(c config.JWT) (*security.JWT, error) {
	opts := security.Options{
		Issuer:    c.Issuer,
		Audience:  c.Audience,
		ClockSkew: c.ClockSkew,
		TTL:       c.AccessTTL,
	}

	switch c.Alg {
	case "RS256":
		pub, err := security.LoadRSAPublicKeyFromPEM(c.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		return security.NewRS256(pub, opts)
	default:
		return security.NewHS256(c.Secret, opts)
	}
}
