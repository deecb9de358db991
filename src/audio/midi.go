package audio

import (
	"context"
	"log"

	"gitlab.com/gomidi/rtmididrv"
)

// StartMidi forwards MIDI IN events to the keyboard CV line until ctx ends.
func (a *Audio) StartMidi(ctx context.Context) {
	go func() {
		for data := range ListenToMidiIn(ctx) {
			a.AddMidiEvent(data)
		}
	}()
}

// ListenToMidiIn opens the first MIDI IN port and streams raw events. The
// engine maps note events onto the keyboard CV line.
func ListenToMidiIn(ctx context.Context) <-chan []byte {
	ch := make(chan []byte, 4096)
	go func() {
		drv, err := rtmididrv.New()
		if err != nil {
			log.Printf("failed to initialize MIDI driver: %v\n", err)
			return
		}
		defer func() {
			if err := drv.Close(); err != nil {
				log.Printf("failed to close MIDI driver: %v\n", err)
			}
		}()
		ins, err := drv.Ins()
		if err != nil {
			log.Printf("failed to get MIDI IN: %v\n", err)
			return
		}
		log.Printf("MIDI IN: %v\n", ins)
		if len(ins) == 0 {
			log.Println("WARN: no MIDI IN port, keyboard CV stays at 0 V")
			return
		}
		in := ins[0]
		if err := in.Open(); err != nil {
			log.Printf("failed to open MIDI IN: %v\n", err)
			return
		}
		log.Println("opened " + in.String())
		defer func() {
			if err := in.Close(); err != nil {
				log.Printf("failed to close MIDI IN: %v\n", err)
			}
		}()
		log.Println("start listening MIDI IN...")
		if err := in.SetListener(func(data []byte, deltaMicroseconds int64) {
			ch <- data
		}); err != nil {
			log.Println("failed to set listener: " + err.Error())
		}
		defer func() {
			log.Println("stop listening MIDI IN...")
			if err := in.StopListening(); err != nil {
				log.Printf("failed to stop listening: %v\n", err)
			}
		}()
		defer close(ch)
		<-ctx.Done()
	}()
	return ch
}
