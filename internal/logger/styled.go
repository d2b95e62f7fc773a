// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods.
// pterm strips its own ANSI codes when stdout isn't a terminal (see
// util.ShouldUseColors), so a single implementation serves both
// interactive and piped/file output without a separate plain variant.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Secondary).Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithProxy logs msg with the proxy key highlighted, for events that
// aren't state transitions (selection, pool borrow/return, etc).
func (sl *StyledLogger) InfoWithProxy(msg string, key string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(key))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithProxy(msg string, key string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(key))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithProxy(msg string, key string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.NewStyle(sl.theme.Primary).Sprint(key))
	sl.logger.Error(styledMsg, args...)
}

// InfoProxyState logs a proxy's state-kind transition (Available,
// Unavailable, Resting), coloured by severity.
func (sl *StyledLogger) InfoProxyState(msg string, key string, kind domain.StateKind, args ...any) {
	var stateColor pterm.Color
	switch kind {
	case domain.Available:
		stateColor = sl.theme.Good
	case domain.Resting:
		stateColor = sl.theme.Warning
	case domain.Unavailable:
		stateColor = sl.theme.Danger
	default:
		stateColor = sl.theme.Secondary
	}

	styledMsg := fmt.Sprintf("%s %s is %s",
		msg,
		pterm.NewStyle(sl.theme.Primary).Sprint(key),
		pterm.NewStyle(stateColor).Sprint(kind.String()),
	)
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	formattedNums := make([]string, 0, len(numbers))
	for _, num := range numbers {
		formattedNums = append(formattedNums, pterm.NewStyle(sl.theme.Secondary).Sprint(num))
	}

	styledMsg := fmt.Sprintf(msg, toInterfaceSlice(formattedNums)...)
	sl.logger.Info(styledMsg)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
