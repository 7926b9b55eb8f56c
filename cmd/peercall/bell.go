package main

import "io"

// bell rings the terminal bell for call cues
type bell struct {
	w io.Writer
}

func (b bell) Connected()       { b.ring(1) }
func (b bell) Disconnected()    { b.ring(2) }
func (b bell) MessageReceived() { b.ring(1) }

func (b bell) ring(n int) {
	for i := 0; i < n; i++ {
		b.w.Write([]byte{'\a'})
	}
}
