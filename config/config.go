package config

import (
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	JwtSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// WhatsappConfig configures the external messaging gateway. Either a static
// apikey or a login account+secret pair must be present; with both, the login
// flow is preferred and the apikey serves as fallback.
type WhatsappConfig struct {
	GatewayURL   string `yaml:"gateway_url" json:"gateway_url"`
	Apikey       string `yaml:"apikey" json:"apikey"`
	LoginAccount string `yaml:"login_account" json:"login_account"`
	LoginSecret  string `yaml:"login_secret" json:"login_secret"`
	Integration  string `yaml:"integration" json:"integration"`
	Timeout      int    `yaml:"timeout" json:"timeout"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Database DBConfig       `yaml:"database" json:"database"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
	Whatsapp WhatsappConfig `yaml:"whatsapp" json:"whatsapp"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "acaiteria",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/acaiteria",
		Debug:    true,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1816,
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "acaiteria",
		User:     "postgres",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/acaiteria/acaiteria.log",
	},
	Whatsapp: WhatsappConfig{
		Integration: "WHATSAPP-BAILEYS",
		Timeout:     30,
	},
}

func setEnvValue(name string, f func(v string)) {
	if v, ok := os.LookupEnv(name); ok {
		f(v)
	}
}

// LoadConfig reads the YAML config file and applies environment overrides.
// A missing file yields the defaults.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	setEnvValue("ACAITERIA_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvValue("ACAITERIA_SYSTEM_DEBUG", func(v string) { cfg.System.Debug = cast.ToBool(v) })
	setEnvValue("ACAITERIA_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvValue("ACAITERIA_WEB_PORT", func(v string) { cfg.Web.Port = cast.ToInt(v) })
	setEnvValue("ACAITERIA_WEB_JWT_SECRET", func(v string) { cfg.Web.JwtSecret = v })
	setEnvValue("ACAITERIA_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvValue("ACAITERIA_DB_PORT", func(v string) { cfg.Database.Port = cast.ToInt(v) })
	setEnvValue("ACAITERIA_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("ACAITERIA_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("ACAITERIA_DB_PWD", func(v string) { cfg.Database.Passwd = v })
	setEnvValue("ACAITERIA_WHATSAPP_GATEWAY_URL", func(v string) { cfg.Whatsapp.GatewayURL = v })
	setEnvValue("ACAITERIA_WHATSAPP_APIKEY", func(v string) { cfg.Whatsapp.Apikey = v })
	setEnvValue("ACAITERIA_WHATSAPP_LOGIN_ACCOUNT", func(v string) { cfg.Whatsapp.LoginAccount = v })
	setEnvValue("ACAITERIA_WHATSAPP_LOGIN_SECRET", func(v string) { cfg.Whatsapp.LoginSecret = v })

	if cfg.Whatsapp.Integration == "" {
		cfg.Whatsapp.Integration = "WHATSAPP-BAILEYS"
	}
	if cfg.Whatsapp.Timeout <= 0 {
		cfg.Whatsapp.Timeout = 30
	}
	return cfg
}
