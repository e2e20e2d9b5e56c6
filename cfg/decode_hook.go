package cfg

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
)

func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		switch t {
		case reflect.TypeOf(Cipher("")):
			c := Cipher(s)
			if err := (&c).UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return c, nil
		case reflect.TypeOf(LogFormat("")):
			f := LogFormat(s)
			if err := (&f).UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return f, nil
		case reflect.TypeOf(ResolvedPath("")):
			var p ResolvedPath
			if err := (&p).UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return data, nil
		}
	}
}

// DecodeHook is passed to viper.Unmarshal so that string flag/config
// values decode into Cipher, LogFormat, and ResolvedPath correctly,
// composed the same way gcsfuse's cfg.DecodeHook composes its own
// custom-type hooks with mapstructure's built-ins.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}
