// SPDX-License-Identifier: GPL-2.0-or-later

package cvar

import (
	"log"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

var (
	mutex      sync.RWMutex
	cvarArray  []*Cvar
	cvarByName = make(map[string]*Cvar)
)

type flag uint64

const (
	NONE flag = 0
	// ARCHIVE marks variables that are written to the configuration file.
	ARCHIVE flag = 1
	// ROM variables can not be changed after registration.
	ROM flag = 1 << 6
)

type CallbackFunc func(cv *Cvar)

type Cvar struct {
	mu       sync.RWMutex
	archive  bool
	rom      bool
	callback CallbackFunc
	name     string
	// stringValue is the truth, value the derived one
	stringValue  string
	value        float32
	defaultValue string
}

// All returns the registered variables in registration order.
func All() []*Cvar {
	mutex.RLock()
	defer mutex.RUnlock()
	return append([]*Cvar(nil), cvarArray...)
}

// Archive reports whether the variable belongs to the saved configuration.
func (cv *Cvar) Archive() bool {
	return cv.archive
}

func (cv *Cvar) SetCallback(cb CallbackFunc) {
	cv.mu.Lock()
	cv.callback = cb
	cv.mu.Unlock()
}

func (cv *Cvar) SetByString(s string) {
	if cv.rom {
		return
	}
	cv.set(s)
}

func (cv *Cvar) set(s string) {
	cv.mu.Lock()
	cv.stringValue = s
	pf, _ := strconv.ParseFloat(s, 32)
	cv.value = float32(pf)
	cb := cv.callback
	cv.mu.Unlock()
	if cb != nil {
		cb(cv)
	}
}

func (cv *Cvar) Reset() {
	cv.SetByString(cv.defaultValue)
}

func (cv *Cvar) String() string {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.stringValue
}

func (cv *Cvar) Name() string {
	return cv.name
}

func (cv *Cvar) Default() string {
	return cv.defaultValue
}

func (cv *Cvar) Value() float32 {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.value
}

// Int64 parses the string value, falling back to the float value for
// inputs like "1e6".
func (cv *Cvar) Int64() int64 {
	s := cv.String()
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}
	return int64(cv.Value())
}

func (cv *Cvar) SetValue(value float32) {
	if float32(int(value)) == value {
		v := strconv.FormatInt(int64(value), 10)
		cv.SetByString(v)
	} else {
		v := strconv.FormatFloat(float64(value), 'f', -1, 32)
		cv.SetByString(v)
	}
}

func Get(name string) (*Cvar, bool) {
	mutex.RLock()
	defer mutex.RUnlock()
	cv, ok := cvarByName[name]
	return cv, ok
}

// Set changes a registered variable by name.
func Set(name, value string) error {
	cv, ok := Get(name)
	if !ok {
		return errors.Errorf("variable %s not found", name)
	}
	if cv.rom {
		return errors.Errorf("variable %s is read only", name)
	}
	cv.SetByString(value)
	return nil
}

func Register(name, value string, flags flag) (*Cvar, error) {
	mutex.Lock()
	defer mutex.Unlock()
	if _, ok := cvarByName[name]; ok {
		return nil, errors.Errorf("Can't register variable %s, already defined", name)
	}

	cv := &Cvar{name: name, defaultValue: value}
	cv.set(value)
	cv.archive = flags&ARCHIVE != 0
	cv.rom = flags&ROM != 0
	cvarArray = append(cvarArray, cv)
	cvarByName[name] = cv
	return cv, nil
}

func MustRegister(n, v string, flag flag) *Cvar {
	cv, err := Register(n, v, flag)
	if err != nil {
		log.Panic(n)
	}
	return cv
}
