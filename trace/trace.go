// Package trace records packet-hop and task-level events to a
// line-oriented runlog, and reads them back for cmd/ubtrace. Each
// record is a tab-separated line; RecordHop corresponds to spec.md's
// per-hop trace tag (node, inPort, inTime, outPort, outTime) alongside
// the packet's flow tag (taskId, flowSize); RecordTaskEvent marks
// task-level lifecycle events (e.g. "issued", "completed").
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	hopTag  = "HOP"
	taskTag = "TASK"
)

// PacketHop is one hop's worth of a packet's trace tag plus its flow
// tag, recorded as the packet leaves a node.
type PacketHop struct {
	TaskID   uint64        `csv:"task_id"`
	FlowSize int           `csv:"flow_size"`
	Node     int           `csv:"node"`
	InPort   int           `csv:"in_port"`
	InTime   time.Duration `csv:"in_time_ns"`
	OutPort  int           `csv:"out_port"`
	OutTime  time.Duration `csv:"out_time_ns"`
}

// TaskEvent marks a task-level lifecycle transition (e.g. "issued",
// "completed", "retransmit").
type TaskEvent struct {
	TaskID uint64        `csv:"task_id"`
	Node   int           `csv:"node"`
	Event  string        `csv:"event"`
	Time   time.Duration `csv:"time_ns"`
}

// Recorder is held by node.Simulation: a Writer when
// attrs.KeyTraceEnable is set, Discard otherwise. The node assembler
// records task completion events through it; port, switchnode, ldst and
// urma do not take a Recorder, so no RecordHop records are emitted.
type Recorder interface {
	RecordHop(h PacketHop)
	RecordTaskEvent(e TaskEvent)
}

// Discard implements Recorder as a no-op.
type Discard struct{}

func (Discard) RecordHop(PacketHop)       {}
func (Discard) RecordTaskEvent(TaskEvent) {}

var _ Recorder = Discard{}

// Writer appends trace records to a buffered file under
// <configDir>/runlog/.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// NewWriter creates (or truncates) the runlog file at path, creating
// its parent directory if necessary.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("trace: creating runlog dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: creating runlog file: %w", err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *Writer) RecordHop(h PacketHop) {
	fmt.Fprintf(w.w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		hopTag, h.TaskID, h.FlowSize, h.Node, h.InPort, h.InTime.Nanoseconds(), h.OutPort, h.OutTime.Nanoseconds())
}

func (w *Writer) RecordTaskEvent(e TaskEvent) {
	fmt.Fprintf(w.w, "%s\t%d\t%d\t%s\t%d\n",
		taskTag, e.TaskID, e.Node, e.Event, e.Time.Nanoseconds())
}

// Close flushes buffered records and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

var _ Recorder = (*Writer)(nil)

// OpenCompressed opens path for reading, transparently decompressing
// it through the external zstd binary when the name ends in ".zst".
func OpenCompressed(path string) (io.ReadCloser, error) {
	if !strings.HasSuffix(path, ".zst") {
		return os.Open(path)
	}
	pipeR, pipeW := io.Pipe()
	cmd := exec.Command("zstd", "-d", "-c", path)
	cmd.Stdout = pipeW
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		pipeR.Close()
		pipeW.Close()
		return nil, fmt.Errorf("trace: starting zstd: %w", err)
	}
	go func() {
		pipeW.CloseWithError(cmd.Wait())
	}()
	return pipeR, nil
}

// ReadAll parses a runlog stream into its two record kinds, in the
// order they appear. cmd/ubtrace uses this to feed gocsv.Marshal.
func ReadAll(r io.Reader) ([]PacketHop, []TaskEvent, error) {
	var hops []PacketHop
	var events []TaskEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case hopTag:
			h, err := parseHop(fields)
			if err != nil {
				return nil, nil, fmt.Errorf("trace: line %d: %w", line, err)
			}
			hops = append(hops, h)
		case taskTag:
			e, err := parseTaskEvent(fields)
			if err != nil {
				return nil, nil, fmt.Errorf("trace: line %d: %w", line, err)
			}
			events = append(events, e)
		default:
			return nil, nil, fmt.Errorf("trace: line %d: unrecognized record kind %q", line, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return hops, events, nil
}

func parseHop(fields []string) (PacketHop, error) {
	if len(fields) != 8 {
		return PacketHop{}, fmt.Errorf("expected 8 fields for a HOP record, got %d", len(fields))
	}
	taskID, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return PacketHop{}, err
	}
	flowSize, err := strconv.Atoi(fields[2])
	if err != nil {
		return PacketHop{}, err
	}
	node, err := strconv.Atoi(fields[3])
	if err != nil {
		return PacketHop{}, err
	}
	inPort, err := strconv.Atoi(fields[4])
	if err != nil {
		return PacketHop{}, err
	}
	inTime, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return PacketHop{}, err
	}
	outPort, err := strconv.Atoi(fields[6])
	if err != nil {
		return PacketHop{}, err
	}
	outTime, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return PacketHop{}, err
	}
	return PacketHop{
		TaskID:   taskID,
		FlowSize: flowSize,
		Node:     node,
		InPort:   inPort,
		InTime:   time.Duration(inTime),
		OutPort:  outPort,
		OutTime:  time.Duration(outTime),
	}, nil
}

func parseTaskEvent(fields []string) (TaskEvent, error) {
	if len(fields) != 5 {
		return TaskEvent{}, fmt.Errorf("expected 5 fields for a TASK record, got %d", len(fields))
	}
	taskID, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return TaskEvent{}, err
	}
	node, err := strconv.Atoi(fields[2])
	if err != nil {
		return TaskEvent{}, err
	}
	t, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return TaskEvent{}, err
	}
	return TaskEvent{TaskID: taskID, Node: node, Event: fields[3], Time: time.Duration(t)}, nil
}
