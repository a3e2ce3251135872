package app

import (
	"errors"
	"fmt"
	"time"

	"mydylms-backend/internal/components/telemetry"
	"mydylms-backend/internal/content"
	"mydylms-backend/internal/documents"
	"mydylms-backend/internal/portal"
	"mydylms-backend/pkg/configutil"
)

type PortalConfig struct {
	BaseUrl              string  `json:"base_url"`
	UserAgent            string  `json:"user_agent"`
	TimeoutSeconds       int     `json:"timeout_seconds"`
	StreamTimeoutSeconds int     `json:"stream_timeout_seconds"`
	// RequestsPerSecond of 0 turns the outbound limiter off.
	RequestsPerSecond    float64 `json:"requests_per_second"`
	Retries              int     `json:"retries"`
	CloudflareBypass     bool    `json:"cloudflare_bypass"`
}

// TTLConfig holds freshness windows in hours.
type TTLConfig struct {
	Profile          float64 `json:"profile"`
	Semesters        float64 `json:"semesters"`
	CourseContents   float64 `json:"course_contents"`
	Attendance       float64 `json:"attendance"`
	CourseAttendance float64 `json:"course_attendance"`
}

type DocumentsConfig struct {
	NonViewableMods            []string `json:"non_viewable_mods"`
	NonDownloadableMods        []string `json:"non_downloadable_mods"`
	FrontendViewableExtensions []string `json:"frontend_viewable_extensions"`
}

type Config struct {
	Listen   string `json:"listen"`
	Database string `json:"database"`
	// CacheDir switches the cache to one json file per entry in this directory.
	CacheDir            string           `json:"cache_dir"`
	Timezone            string           `json:"timezone"`
	Verbose             bool             `json:"verbose"`
	SessionCheckSeconds int              `json:"session_check_seconds"`
	Portal              PortalConfig     `json:"portal"`
	TTL                 TTLConfig        `json:"ttl"`
	Documents           DocumentsConfig  `json:"documents"`
	Telemetry           telemetry.Config `json:"telemetry"`
}

func DefaultConfig() Config {
	ttl := content.DefaultTTLs()
	policy := documents.DefaultPolicy()
	return Config{
		Listen:              ":8000",
		Database:            "mydylms.db",
		SessionCheckSeconds: 300,
		Portal: PortalConfig{
			BaseUrl:              "https://mydy.dypatil.edu/rait/",
			UserAgent:            portal.DefaultUserAgent,
			TimeoutSeconds:       15,
			StreamTimeoutSeconds: 30,
			RequestsPerSecond:    5,
			Retries:              2,
		},
		TTL: TTLConfig{
			Profile:          ttl.Profile,
			Semesters:        ttl.Semesters,
			CourseContents:   ttl.CourseContents,
			Attendance:       ttl.Attendance,
			CourseAttendance: ttl.CourseAttendance,
		},
		Documents: DocumentsConfig{
			NonViewableMods:            policy.NonViewableMods,
			NonDownloadableMods:        policy.NonDownloadableMods,
			FrontendViewableExtensions: policy.FrontendViewableExtensions,
		},
	}
}

// ReadConfig reads name (and its .local override) over the defaults, a
// missing file is not an error.
func ReadConfig(name string) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(name, DefaultConfig())
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", name, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen must not be empty"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database must not be empty"))
	}
	if c.Portal.BaseUrl == "" {
		errs = append(errs, errors.New("portal.base_url must not be empty"))
	}
	if c.SessionCheckSeconds <= 0 {
		errs = append(errs, errors.New("session_check_seconds must be positive"))
	}
	if c.Portal.Retries < 0 {
		errs = append(errs, errors.New("portal.retries must not be negative"))
	}
	ttls := map[string]float64{
		"ttl.profile":           c.TTL.Profile,
		"ttl.semesters":         c.TTL.Semesters,
		"ttl.course_contents":   c.TTL.CourseContents,
		"ttl.attendance":        c.TTL.Attendance,
		"ttl.course_attendance": c.TTL.CourseAttendance,
	}
	for key, hours := range ttls {
		if hours <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", key, hours))
		}
	}
	return errors.Join(errs...)
}

func (c Config) PortalOptions() portal.Options {
	return portal.Options{
		BaseUrl:           c.Portal.BaseUrl,
		UserAgent:         c.Portal.UserAgent,
		Timeout:           time.Duration(c.Portal.TimeoutSeconds) * time.Second,
		StreamTimeout:     time.Duration(c.Portal.StreamTimeoutSeconds) * time.Second,
		RequestsPerSecond: c.Portal.RequestsPerSecond,
		Retries:           c.Portal.Retries,
		CloudflareBypass:  c.Portal.CloudflareBypass,
	}
}

func (c Config) TTLs() content.TTLs {
	return content.TTLs{
		Profile:          c.TTL.Profile,
		Semesters:        c.TTL.Semesters,
		CourseContents:   c.TTL.CourseContents,
		Attendance:       c.TTL.Attendance,
		CourseAttendance: c.TTL.CourseAttendance,
	}
}

func (c Config) Policy() documents.Policy {
	return documents.Policy{
		NonViewableMods:            c.Documents.NonViewableMods,
		NonDownloadableMods:        c.Documents.NonDownloadableMods,
		FrontendViewableExtensions: c.Documents.FrontendViewableExtensions,
	}
}
