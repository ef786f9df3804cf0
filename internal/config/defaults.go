package config

const (
	defaultDataDir                   = "~/.local/share/reelkit"
	defaultLogDir                    = "~/.local/share/reelkit/logs"
	defaultOutputDir                 = "~/Videos/reelkit"
	defaultAPIBind                   = "127.0.0.1:7820"
	defaultMaxConcurrentJobs         = 2
	defaultSchedulerPollInterval     = 5
	defaultAdmissionSpacingMillis    = 2000
	defaultErrorRetryInterval        = 15
	defaultSweepInterval             = 60
	defaultInitTimeout               = 120
	defaultJobTimeout                = 4 * 60 * 60
	defaultHeartbeatInterval         = 15
	defaultMinOutputBytes            = 1
	defaultStartupPercent            = 10
	defaultStartupThresholdMinutes   = 10
	defaultThresholdMinutes          = 30
	defaultFinalizationPercent       = 90
	defaultFinalizationThresholdMins = 15
	defaultRetentionMinutes          = 60
	defaultCleanupInterval           = 300
	defaultPersistedRetentionHours   = 168
	defaultConnectTimeout            = 5
	defaultMinPollMillis             = 1000
	defaultMaxPollInterval           = 30
	defaultStalenessCheckEvery       = 3
	defaultLowThreshold              = 180
	defaultMidThreshold              = 300
	defaultHighThreshold             = 600
	defaultMidPercent                = 50
	defaultHighPercent               = 90
	defaultNearCompletePercent       = 90
	defaultMaxConsecutiveFailures    = 5
	defaultEncoderBinary             = "drapto"
	defaultRelayChannel              = "reelkit:progress"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultLogRetentionDays          = 30
)

var defaultStartupStages = []string{"queued", "initializing", "preparing", "analyzing"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			OutputDir: defaultOutputDir,
			APIBind:   defaultAPIBind,
		},
		Scheduler: Scheduler{
			Enabled:                true,
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			PollInterval:           defaultSchedulerPollInterval,
			AdmissionSpacingMillis: defaultAdmissionSpacingMillis,
			ErrorRetryInterval:     defaultErrorRetryInterval,
			SweepInterval:          defaultSweepInterval,
		},
		Jobs: Jobs{
			InitTimeout:       defaultInitTimeout,
			JobTimeout:        defaultJobTimeout,
			HeartbeatInterval: defaultHeartbeatInterval,
			MinOutputBytes:    defaultMinOutputBytes,
		},
		Stuck: Stuck{
			StartupPercent:        defaultStartupPercent,
			StartupStages:         append([]string(nil), defaultStartupStages...),
			StartupThreshold:      defaultStartupThresholdMinutes,
			DefaultThreshold:      defaultThresholdMinutes,
			FinalizationPercent:   defaultFinalizationPercent,
			FinalizationThreshold: defaultFinalizationThresholdMins,
		},
		Progress: Progress{
			RetentionMinutes:   defaultRetentionMinutes,
			CleanupInterval:    defaultCleanupInterval,
			PersistedRetention: defaultPersistedRetentionHours,
		},
		Tracker: Tracker{
			ConnectTimeout:         defaultConnectTimeout,
			MinPollMillis:          defaultMinPollMillis,
			MaxPollInterval:        defaultMaxPollInterval,
			StalenessCheckEvery:    defaultStalenessCheckEvery,
			LowThreshold:           defaultLowThreshold,
			MidThreshold:           defaultMidThreshold,
			HighThreshold:          defaultHighThreshold,
			MidPercent:             defaultMidPercent,
			HighPercent:            defaultHighPercent,
			NearCompletePercent:    defaultNearCompletePercent,
			MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
		},
		Encoder: Encoder{
			Backend: EncoderBackendCLI,
			Binary:  defaultEncoderBinary,
		},
		Relay: Relay{
			Channel: defaultRelayChannel,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
