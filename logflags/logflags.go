// Package logflags gates the optional decode diagnostics each format
// decoder can emit. Logging is off by default; Setup enables layers by
// name so fuzzing and production use stay silent.
package logflags

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var elf = false
var macho = false
var pe = false
var ar = false
var detect = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Elf returns true if the elf decoder should log skipped and malformed
// structures.
func Elf() bool {
	return elf
}

// ElfLogger returns a configured logger for the elf decoder.
func ElfLogger() *logrus.Entry {
	return makeLogger(elf, logrus.Fields{"layer": "elf"})
}

func MachO() bool {
	return macho
}

func MachOLogger() *logrus.Entry {
	return makeLogger(macho, logrus.Fields{"layer": "macho"})
}

func PE() bool {
	return pe
}

func PELogger() *logrus.Entry {
	return makeLogger(pe, logrus.Fields{"layer": "pe"})
}

func Ar() bool {
	return ar
}

func ArLogger() *logrus.Entry {
	return makeLogger(ar, logrus.Fields{"layer": "ar"})
}

func Detect() bool {
	return detect
}

func DetectLogger() *logrus.Entry {
	return makeLogger(detect, logrus.Fields{"layer": "detect"})
}

// Setup enables logging for a comma-separated list of layers
// ("elf,macho,pe,ar,detect").
func Setup(spec string) error {
	for _, name := range strings.Split(spec, ",") {
		switch strings.TrimSpace(name) {
		case "":
			continue
		case "elf":
			elf = true
		case "macho":
			macho = true
		case "pe":
			pe = true
		case "ar":
			ar = true
		case "detect":
			detect = true
		default:
			return errors.Errorf("invalid log layer %q", name)
		}
	}
	return nil
}
