package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Компоненты агента с собственными файлами логов
const (
	ComponentAgent    = "agent"
	ComponentPlanner  = "planner"
	ComponentExecutor = "executor"
	ComponentGateway  = "gateway"
	ComponentEvents   = "events"
	ComponentAPI      = "api"
)

// LoggerManager реестр логгеров компонентов. Новые логгеры наследуют
// уровень менеджера, поэтому SetLevelAll достаточно вызвать один раз.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	level   LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// NewLoggerManager создаёт пустой реестр с уровнем INFO
func NewLoggerManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger), level: INFO}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = NewLoggerManager()
	})
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return l, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}

	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", component, err)
	}
	l.SetLevel(lm.level)
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger как GetLogger, но без файла при ошибке: пишет только в консоль
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}

	lm.mu.RLock()
	level := lm.level
	lm.mu.RUnlock()
	return &Logger{
		component:       component,
		consoleLogger:   defaultLogger.consoleLogger,
		minConsoleLevel: level,
		minFileLevel:    ERROR + 1,
	}
}

// SetLevelAll задаёт уровень консоли всем текущим и будущим логгерам
func (lm *LoggerManager) SetLevelAll(level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.level = level
	for _, l := range lm.loggers {
		l.SetLevel(level)
	}
}

// SetLogLevel уровни одного компонента: консоль и файл отдельно
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("logger for component %s not found", component)
	}

	l.mu.Lock()
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	l.mu.Unlock()
	return nil
}

// Components отсортированный список созданных логгеров
func (lm *LoggerManager) Components() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]string, 0, len(lm.loggers))
	for c := range lm.loggers {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CloseAll закрывает файлы всех логгеров и очищает реестр
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for c, l := range lm.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger %s: %w", c, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// GetComponentLogger логгер компонента из глобального менеджера
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetPlannerLogger() *Logger  { return GetComponentLogger(ComponentPlanner) }
func GetExecutorLogger() *Logger { return GetComponentLogger(ComponentExecutor) }
func GetAgentLogger() *Logger    { return GetComponentLogger(ComponentAgent) }
func GetGatewayLogger() *Logger  { return GetComponentLogger(ComponentGateway) }
