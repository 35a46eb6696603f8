package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Server     Server     `koanf:"server"`
	Database   Database   `koanf:"db"`
	Allocation Allocation `koanf:"allocation"`
	Punch      Punch      `koanf:"punch"`
}

type Server struct {
	Addr string `koanf:"addr"`
}

type Database struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	User    string `koanf:"user"`
	Pass    string `koanf:"pass"`
	Name    string `koanf:"name"`
	Schema  string `koanf:"schema"`
	SSLMode string `koanf:"sslmode"`
	// Pool settings, zero keeps the pgx default.
	MaxConns        int32         `koanf:"maxconns"`
	MinConns        int32         `koanf:"minconns"`
	MaxConnLifetime time.Duration `koanf:"maxconnlifetime"`
	ConnectTimeout  time.Duration `koanf:"connecttimeout"`
}

type Allocation struct {
	// DefaultMonthlyCap is the per-resource monthly hour ceiling of periods without an override cap.
	DefaultMonthlyCap string `koanf:"defaultmonthlycap"`
}

type Punch struct {
	// Isolation is the transaction isolation level for punch writes:
	// "readcommitted", "repeatableread" or "serializable".
	Isolation string `koanf:"isolation"`
	// LockAllocation takes a row lock on the parent monthly allocation before the weekly cap check.
	LockAllocation bool `koanf:"lockallocation"`
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Application{
		Server: Server{
			Addr: ":8181",
		},
		Database: Database{
			Host:            "localhost",
			Port:            5432,
			User:            "feas",
			Pass:            "",
			Name:            "feas",
			Schema:          "feas",
			SSLMode:         "disable",
			MaxConns:        25,
			MinConns:        5,
			MaxConnLifetime: time.Hour,
			ConnectTimeout:  5 * time.Second,
		},
		Allocation: Allocation{
			DefaultMonthlyCap: "183.75",
		},
		Punch: Punch{
			Isolation:      "readcommitted",
			LockAllocation: false,
		},
	}, "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "FEAS_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "FEAS_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}
