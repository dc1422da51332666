package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eleven-am/pondchat/auth"
)

type tokenOptions struct {
	subject   string
	name      string
	jwtSecret string
	ttl       time.Duration
}

func buildTokenCmd(global *globalOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development token for the broker",
		Example: `  pondchat token --subject alice --name Alice --jwt-secret dev-secret --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := global.load(cmd)
			if err != nil {
				return err
			}
			secret := opts.jwtSecret
			if secret == "" {
				secret = cfg.Broker.JWTSecret
			}
			ttl := opts.ttl
			if ttl == 0 {
				ttl = cfg.Broker.TokenTTL
			}

			token, err := issueToken(secret, ttl, opts.subject, opts.name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.subject, "subject", "s", "", "User id placed in the sub claim")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name")
	cmd.Flags().StringVar(&opts.jwtSecret, "jwt-secret", os.Getenv("PONDCHAT_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "Token lifetime (default from config, 24h)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func issueToken(secret string, ttl time.Duration, subject, name string) (string, error) {
	if secret == "" {
		return "", errors.New("a signing secret is required: use --jwt-secret or broker.jwt_secret")
	}
	return auth.NewIssuer(secret, ttl).Issue(subject, name)
}
