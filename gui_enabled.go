//go:build gui

package main

import (
	"runtime"

	"scribe/gui"
	"scribe/session"
	"scribe/shutdown"
)

// fyne must run its event loop on the main OS thread.
func init() {
	runtime.LockOSThread()
}

func runGUI(opts session.Options, info shellInfo) error {
	app := gui.New(gui.Info{Provider: info.provider, Language: info.language, Version: version})
	opts.OnLevel = app.Level
	sess := session.New(opts)
	defer sess.Close()
	sess.Attach(app)

	stop := shutdown.OnSignal(app.Quit)
	defer stop()

	return app.Run(sess)
}
