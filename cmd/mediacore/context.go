// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ManuGH/mediacore/internal/config"
	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/version"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, logLevelFlag: logLevelFlag}
}

// ensureConfig loads the configuration once and reconfigures logging from it.
func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && *c.logLevelFlag != "" {
			cfg.LogLevel = *c.logLevelFlag
		}
		log.Configure(log.Config{Level: cfg.LogLevel, Service: cfg.LogService, Version: version.Version})
		c.config = cfg
	})
	return c.config, c.configErr
}

// client submits jobs to a running fleet without consuming any.
type client struct {
	store  *coord.RedisStore
	broker *queue.Broker
	queues jobs.Queues
	cfg    config.Config
}

func (c *commandContext) dial(ctx context.Context) (*client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := coord.NewRedisStore(ctx, coord.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, log.WithComponent("cli"))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Redis.Addr, err)
	}
	broker := queue.NewBroker(store, queue.Config{
		WakeInterval: cfg.Queue.WakeInterval,
		ResultTTL:    cfg.Queue.ResultTTL,
	})
	return &client{store: store, broker: broker, queues: jobs.NewQueues(broker, cfg.NodeID), cfg: cfg}, nil
}

func (c *client) Close() {
	c.broker.Close()
	_ = c.store.Close()
}
