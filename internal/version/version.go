// Package version хранит сведения о сборке, заполняемые через -ldflags.
package version

import "fmt"

// Service — имя сервиса в health-ответах и логах запуска.
const Service = "shop-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// String форматирует сведения о сборке одной строкой.
func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, version, commit, date)
}
