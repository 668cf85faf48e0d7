package quizstudio

import (
	"go.uber.org/zap"
)

// Notifier delivers lifecycle notifications. Delivery is best effort.
type Notifier interface {
	Notify(title, body, tag string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(title, body, tag string)

func (f NotifierFunc) Notify(title, body, tag string) { f(title, body, tag) }

// LogNotifier writes notifications to the package logger
type LogNotifier struct{}

func (LogNotifier) Notify(title, body, tag string) {
	Logger().Info("notification", zap.String("title", title), zap.String("body", body), zap.String("tag", tag))
}

// safeNotify never lets a missing or panicking notifier reach the caller.
func safeNotify(n Notifier, title, body, tag string) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			Logger().Warn("notifier panicked", zap.Any("panic", r), zap.String("tag", tag))
		}
	}()
	n.Notify(title, body, tag)
}
