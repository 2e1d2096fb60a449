// Main package in ubtrace implements a command line tool for converting
// a run's packet/task trace file into CSV, mirroring the teacher's
// csvtool's "one reader, one CSV writer" shape.
package main

import (
	"io"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/ubfabric/ubsim/trace"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

func toCSV(hops []trace.PacketHop, events []trace.TaskEvent, hopsOut, eventsOut io.Writer) error {
	if err := gocsv.Marshal(hops, hopsOut); err != nil {
		return err
	}
	return gocsv.Marshal(events, eventsOut)
}

// TODO handle gs: filenames.
func main() {
	args := os.Args[1:]

	var source io.ReadCloser
	var err error
	source = os.Stdin
	if len(args) == 1 {
		source, err = trace.OpenCompressed(args[0])
		rtx.Must(err, "Could not open file %q", args[0])
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
	}
	defer source.Close()

	hops, events, err := trace.ReadAll(source)
	rtx.Must(err, "Could not read trace")

	hopsFile, err := os.Create("hops.csv")
	rtx.Must(err, "Could not create hops.csv")
	defer hopsFile.Close()

	eventsFile, err := os.Create("task_events.csv")
	rtx.Must(err, "Could not create task_events.csv")
	defer eventsFile.Close()

	rtx.Must(toCSV(hops, events, hopsFile, eventsFile), "Could not convert trace to CSV")
}
