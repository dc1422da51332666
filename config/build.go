package config

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/eleven-am/pondchat/auth"
	"github.com/eleven-am/pondchat/broker"
	"github.com/eleven-am/pondchat/endpoint"
	"github.com/eleven-am/pondchat/transport"
)

// SocketURL returns Endpoint when set, otherwise the URL derived from
// APIURL.
func (c ClientConfig) SocketURL() (string, error) {
	if c.Endpoint != "" {
		address, err := endpoint.Normalize(c.Endpoint)
		if err != nil {
			return "", err
		}
		return address.String(), nil
	}
	address, err := endpoint.FromAPIBase(c.APIURL)
	if err != nil {
		return "", err
	}
	return address.String(), nil
}

// TokenProvider returns the configured token source wrapped so expired JWTs
// are withheld, or nil when neither token nor token_file is set.
func (c ClientConfig) TokenProvider() transport.TokenProvider {
	var source auth.Source
	switch {
	case c.Token != "":
		source = auth.Static(c.Token)
	case c.TokenFile != "":
		source = auth.File{Path: c.TokenFile}
	default:
		return nil
	}
	return &auth.JWTProvider{Source: source, Leeway: c.TokenLeeway}
}

func (c ClientConfig) ReconnectPolicy() transport.ReconnectPolicy {
	r := c.Reconnect
	if r.Strategy == StrategyExponential {
		return &transport.ExponentialBackoff{
			Initial:     r.Initial,
			Max:         r.Max,
			Factor:      r.Factor,
			Jitter:      r.Jitter,
			MaxAttempts: r.MaxAttempts,
		}
	}
	return transport.FixedDelay(r.Delay)
}

// Transport builds the transport configuration.
func (c ClientConfig) Transport(logger *slog.Logger, metrics transport.MetricsCollector) *transport.Config {
	return &transport.Config{
		ReconnectDelay:    c.Reconnect.Delay,
		Reconnect:         c.ReconnectPolicy(),
		HeartbeatIncoming: c.Heartbeat.Incoming,
		HeartbeatOutgoing: c.Heartbeat.Outgoing,
		HandshakeTimeout:  c.HandshakeTimeout,
		WriteTimeout:      c.WriteTimeout,
		SendBuffer:        c.SendBuffer,
		SendRoute:         c.SendRoute,
		TypingRoute:       c.TypingRoute,
		Logger:            logger,
		Metrics:           metrics,
	}
}

// Issuer returns the token issuer for JWTSecret, or nil when
// authentication is disabled.
func (c BrokerConfig) Issuer() *auth.Issuer {
	if c.JWTSecret == "" {
		return nil
	}
	return auth.NewIssuer(c.JWTSecret, c.TokenTTL)
}

// Options builds the broker options. Allowed origins containing a "*" are
// compiled into patterns; the rest are matched exactly.
func (c BrokerConfig) Options(logger *slog.Logger, hooks *broker.Hooks) *broker.Options {
	opts := broker.DefaultOptions()
	opts.Path = c.Path
	opts.HeartbeatSend = c.Heartbeat.Outgoing
	opts.HeartbeatReceive = c.Heartbeat.Incoming
	opts.Logger = logger
	opts.Hooks = hooks
	if issuer := c.Issuer(); issuer != nil {
		opts.Verifier = issuer
	}

	for _, origin := range c.AllowedOrigins {
		opts.CheckOrigin = true
		if strings.Contains(origin, "*") {
			pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(origin), `\*`, ".*") + "$"
			opts.AllowedOriginRegexps = append(opts.AllowedOriginRegexps, regexp.MustCompile(pattern))
			continue
		}
		opts.AllowedOrigins = append(opts.AllowedOrigins, origin)
	}
	return opts
}

func (c BrokerConfig) ServerOptions() broker.ServerOptions {
	return broker.ServerOptions{
		ServerAddr:         c.Addr,
		ServerReadTimeout:  c.ReadTimeout,
		ServerWriteTimeout: c.WriteTimeout,
		ServerIdleTimeout:  c.IdleTimeout,
		ShutdownTimeout:    c.ShutdownTimeout,
	}
}
