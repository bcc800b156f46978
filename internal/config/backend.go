package config

// ConfigBackend is where `devinv config set` persists values between runs.
// macOS keeps them in UserDefaults under com.devinv.app; other platforms use
// a JSON file under $XDG_CONFIG_HOME/devinv. Secrets never go through it.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	Delete(key string) error
}
