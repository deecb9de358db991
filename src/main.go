package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/synthi-emu/engine/src/audio"
	"github.com/synthi-emu/engine/src/matrix"
	"golang.org/x/sync/errgroup"
)

const sockFileName = "/tmp/synthi-engine.sock"
const engineSampleRate = 48000

var blueprintPath = flag.String("blueprint", "", "panel blueprint JSON (default: stock 66x66 panel)")
var calibrationPath = flag.String("calibration", "", "calibration overrides JSON")

func main() {
	flag.Parse()
	log.SetFlags(log.Lshortfile)
	log.Printf("NumCPU: %v\n", runtime.NumCPU())

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m, err := makeMatrix()
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	audio, err := audio.NewAudio(m)
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	defer audio.Close()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, os.Kill, syscall.SIGTERM)
	defer func() {
		signal.Stop(signalCh)
		cancel()
	}()
	go func() {
		sig := <-signalCh
		log.Printf("Caught signal %s: shutting down...\n", sig)
		cancel()
	}()
	audio.StartMidi(ctx)
	err = withIPCConnection(ctx, func(conn net.Conn) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return audio.Start(ctx)
		})
		g.Go(func() error {
			return receiveCommands(ctx, conn, audio.CommandCh)
		})
		g.Go(func() error {
			return sendReports(ctx, conn, audio)
		})
		return g.Wait()
	})
	if err != nil {
		log.Fatalf("error: %v\n", err)
	}
	log.Println("main() ended.")
}

func makeMatrix() (*matrix.Matrix, error) {
	b := matrix.DefaultBlueprint()
	if *blueprintPath != "" {
		data, err := os.ReadFile(*blueprintPath)
		if err != nil {
			return nil, err
		}
		b, err = matrix.ParseBlueprint(data)
		if err != nil {
			return nil, err
		}
	}
	m := matrix.NewMatrix(b, engineSampleRate)
	if *calibrationPath != "" {
		if err := m.LoadCalibrationFile(*calibrationPath); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func withIPCConnection(ctx context.Context, f func(net.Conn) error) error {
	os.Remove(sockFileName)
	listener, err := new(net.ListenConfig).Listen(ctx, "unix", sockFileName)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Closing IPC...")
		err := listener.Close()
		if err != nil {
			log.Printf("error while closing listener: %v", err)
		}
		os.Remove(sockFileName)
	}()
	log.Printf("start listening...\n")
	conn, err := listener.Accept()
	if err != nil {
		return err
	}
	defer func() {
		err := conn.Close()
		if err != nil {
			log.Printf("error while closing connection: %v", err)
		}
	}()
	return f(conn)
}

func receiveCommands(ctx context.Context, conn net.Conn, commandCh chan<- []string) error {
	reader := bufio.NewReader(conn)
	var line []byte
loop:
	for {
		select {
		case <-ctx.Done():
			log.Println("Connection interrupted")
			break loop
		default:
		}
		next, isPrefix, err := reader.ReadLine()
		if err == io.EOF {
			break loop
		}
		if err != nil {
			return err
		}
		line = append(line, next...)
		if isPrefix {
			continue
		}
		command, err := parseCommand(string(line))
		if err != nil {
			return err
		}
		commandCh <- command
		log.Printf("received: %s\n", string(line))
		line = []byte{}
	}
	log.Println("receiveCommands() ended.")
	return nil
}

func parseCommand(line string) ([]string, error) {
	lineStr := strings.Split(line, " ")
	for i, item := range lineStr {
		escaped, err := url.QueryUnescape(item)
		if err != nil {
			return nil, err
		}
		lineStr[i] = escaped
	}
	return lineStr, nil
}

func sendReports(ctx context.Context, conn net.Conn, audio *audio.Audio) error {
	t := time.NewTicker(time.Second / 60)
	defer t.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			log.Println("sendReports() interrupted")
			break loop
		case <-t.C:
			// Keep edits materializing even when the audio device stalls.
			audio.Matrix.Flush()
			var lines []string
			for _, e := range audio.DrainDormancyEvents() {
				state := "dormant"
				if !e.Dormant {
					state = "active"
				}
				lines = append(lines, fmt.Sprintf("dormancy %s %s", e.Module, state))
			}
			if audio.Changes.Has("data") {
				audio.Changes.Delete("data")
				lines = append(lines, levelsLine(audio.GetBusGains()))
			}
			for ch := 0; ch < matrix.NumScopeChannels; ch++ {
				lines = append(lines, spectrumLine(ch, audio.GetScopeSpectrum(ch)))
			}
			for _, line := range lines {
				select {
				case <-ctx.Done():
					log.Println("sendReports() interrupted")
					break loop
				default:
					conn.Write([]byte(line + "\n"))
				}
			}
		}
	}
	log.Println("sendReports() ended.")
	return nil
}

func levelsLine(gains []float64) string {
	s := "levels"
	for _, value := range gains {
		s += " " + strconv.FormatFloat(value, 'f', 6, 64)
	}
	return s
}

func spectrumLine(ch int, spectrum []float64) string {
	s := "spectrum " + strconv.Itoa(ch)
	for _, value := range spectrum {
		s += " " + strconv.FormatFloat(value, 'f', 6, 64)
	}
	return s
}
