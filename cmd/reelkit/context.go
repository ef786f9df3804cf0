package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/client"
	"github.com/Coffee285/AVS-sub001/internal/config"
)

type commandContext struct {
	configFlag *string
	urlFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, urlFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		urlFlag:    urlFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) daemonURL(cfg *config.Config) string {
	if c.urlFlag != nil {
		if url := strings.TrimSpace(*c.urlFlag); url != "" {
			return url
		}
	}
	return cfg.DaemonURL()
}

func (c *commandContext) apiClient() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.New(c.daemonURL(cfg), client.WithToken(cfg.Paths.APIToken))
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	return wrapClientError(fn(cl), cl.BaseURL())
}

func wrapClientError(err error, baseURL string) error {
	switch {
	case err == nil:
		return nil
	case client.IsAPIUnavailable(err):
		return fmt.Errorf("connect to daemon at %s: %w; start it with `reelkit daemon`", baseURL, err)
	default:
		return err
	}
}

// skipConfigAnnotation marks commands that load configuration themselves.
const skipConfigAnnotation = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

// exitError carries a specific process exit status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
