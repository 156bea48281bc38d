package tui

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
)

// themeColor is either a single color string or a [light, dark] pair.
type themeColor struct {
	color lipgloss.TerminalColor
}

func (c *themeColor) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case string:
		c.color = lipgloss.Color(v)
		return nil
	case []any:
		if len(v) != 2 {
			return fmt.Errorf("adaptive color needs exactly [light, dark], got %d values", len(v))
		}
		light, ok1 := v[0].(string)
		dark, ok2 := v[1].(string)
		if !ok1 || !ok2 {
			return fmt.Errorf("adaptive color values must be strings")
		}
		c.color = lipgloss.AdaptiveColor{Light: light, Dark: dark}
		return nil
	}
	return fmt.Errorf("unsupported color value %v", v)
}

// themeFile represents the structure of the theme TOML file. Pointers let
// users override only the colors they want.
type themeFile struct {
	Primary    *themeColor `toml:"Primary"`
	Subtle     *themeColor `toml:"Subtle"`
	Success    *themeColor `toml:"Success"`
	Warning    *themeColor `toml:"Warning"`
	Error      *themeColor `toml:"Error"`
	Normal     *themeColor `toml:"Normal"`
	Disabled   *themeColor `toml:"Disabled"`
	Border     *themeColor `toml:"Border"`
	SignalHigh *themeColor `toml:"SignalHigh"`
	SignalLow  *themeColor `toml:"SignalLow"`
}

// LoadTheme reads a theme from r and overrides the default theme. A nil
// reader does nothing.
func LoadTheme(r io.Reader) error {
	if r == nil {
		return nil
	}

	var tf themeFile
	if _, err := toml.NewDecoder(r).Decode(&tf); err != nil {
		return err
	}

	theme := NewDefaultTheme()
	for _, o := range []struct {
		src *themeColor
		dst *lipgloss.TerminalColor
	}{
		{tf.Primary, &theme.Primary},
		{tf.Subtle, &theme.Subtle},
		{tf.Success, &theme.Success},
		{tf.Warning, &theme.Warning},
		{tf.Error, &theme.Error},
		{tf.Normal, &theme.Normal},
		{tf.Disabled, &theme.Disabled},
		{tf.Border, &theme.Border},
		{tf.SignalHigh, &theme.SignalHigh},
		{tf.SignalLow, &theme.SignalLow},
	} {
		if o.src != nil {
			*o.dst = o.src.color
		}
	}

	CurrentTheme = theme
	return nil
}
