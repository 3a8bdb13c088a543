package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	RunServer bool `mapstructure:"RUN_SERVER"`
	RunWorker bool `mapstructure:"RUN_WORKER"`

	// Broker. Empty REDIS_URL selects the in-process broker.
	RedisURL  string        `mapstructure:"REDIS_URL"`
	QueueName string        `mapstructure:"QUEUE_NAME"`
	ResultTTL time.Duration `mapstructure:"RESULT_TTL"`

	// Executor budgets.
	HardTimeLimit  time.Duration `mapstructure:"HARD_TIME_LIMIT"`
	SoftTimeLimit  time.Duration `mapstructure:"SOFT_TIME_LIMIT"`
	StepRetries    int           `mapstructure:"STEP_RETRIES"`
	MaxConcurrency int           `mapstructure:"MAX_CONCURRENCY"`

	// Storage.
	WorkDir      string `mapstructure:"WORK_DIR"`
	MaxInputSize int64  `mapstructure:"MAX_INPUT_SIZE"`

	// Media processing.
	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	FFExtraArgs      string        `mapstructure:"FF_EXTRA_ARGS"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	SilenceNoiseDB   float64       `mapstructure:"SILENCE_NOISE_DB"`
	SilenceMinLen    time.Duration `mapstructure:"SILENCE_MIN_LEN"`
	SilencePadding   time.Duration `mapstructure:"SILENCE_PADDING"`

	// Shorts extraction.
	ShortsMax    int           `mapstructure:"SHORTS_MAX"`
	ShortsLength time.Duration `mapstructure:"SHORTS_LENGTH"`

	// External collaborators.
	TranscribeURL string `mapstructure:"TRANSCRIBE_URL"`
	TranscribeKey string `mapstructure:"TRANSCRIBE_KEY"`
	TitlesURL     string `mapstructure:"TITLES_URL"`
	TitlesKey     string `mapstructure:"TITLES_KEY"`
	TitlesModel   string `mapstructure:"TITLES_MODEL"`

	// Upload.
	ScheduleFile   string `mapstructure:"SCHEDULE_FILE"`
	UploadPrivacy  string `mapstructure:"UPLOAD_PRIVACY"`
	UploadCategory string `mapstructure:"UPLOAD_CATEGORY"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("RUN_SERVER", true)
	vp.SetDefault("RUN_WORKER", true)

	vp.SetDefault("REDIS_URL", "")
	vp.SetDefault("QUEUE_NAME", "videoflow:tasks")
	vp.SetDefault("RESULT_TTL", "24h")

	// Mirrors the classic worker budgets: 30m hard, 25m soft.
	vp.SetDefault("HARD_TIME_LIMIT", "30m")
	vp.SetDefault("SOFT_TIME_LIMIT", "25m")
	vp.SetDefault("STEP_RETRIES", 2)
	vp.SetDefault("MAX_CONCURRENCY", 1)

	vp.SetDefault("WORK_DIR", "")
	vp.SetDefault("MAX_INPUT_SIZE", "2GB")

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_EXTRA_ARGS", "")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("SILENCE_NOISE_DB", -35.0)
	vp.SetDefault("SILENCE_MIN_LEN", "800ms")
	vp.SetDefault("SILENCE_PADDING", "200ms")

	vp.SetDefault("SHORTS_MAX", 3)
	vp.SetDefault("SHORTS_LENGTH", "45s")

	vp.SetDefault("TRANSCRIBE_URL", "https://api.deepgram.com/v1/listen")
	vp.SetDefault("TRANSCRIBE_KEY", "")
	vp.SetDefault("TITLES_URL", "https://api.openai.com/v1/chat/completions")
	vp.SetDefault("TITLES_KEY", "")
	vp.SetDefault("TITLES_MODEL", "gpt-4o-mini")

	vp.SetDefault("SCHEDULE_FILE", "publish_schedule.yaml")
	vp.SetDefault("UPLOAD_PRIVACY", "private")
	vp.SetDefault("UPLOAD_CATEGORY", "22")

	vp.SetConfigName("videoflow_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/videoflow/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("VIDEOFLOW")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
