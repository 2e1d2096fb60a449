// Package node assembles a complete simulation from the CSV
// configuration inputs: it builds the node/port/link topology, the
// per-node routing tables, transport channels, URMA/LDST endpoints, and
// dispatches traffic.csv tasks (honoring phase-id dependencies) and
// fault.csv injections, per spec.md §6 and §9's "global state ... scoped
// singletons initialized at simulation start."
package node

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/ubfabric/ubsim/addr"
	"github.com/ubfabric/ubsim/attrs"
	"github.com/ubfabric/ubsim/caqm"
	"github.com/ubfabric/ubsim/csvconfig"
	"github.com/ubfabric/ubsim/fault"
	"github.com/ubfabric/ubsim/flowcontrol"
	"github.com/ubfabric/ubsim/hbm"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/ldst"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/port"
	"github.com/ubfabric/ubsim/queuemgr"
	"github.com/ubfabric/ubsim/routetable"
	"github.com/ubfabric/ubsim/simkernel"
	"github.com/ubfabric/ubsim/switchnode"
	"github.com/ubfabric/ubsim/trace"
	"github.com/ubfabric/ubsim/transport"
	"github.com/ubfabric/ubsim/urma"
	"github.com/ubfabric/ubsim/voq"
)

// Defaults used where a CSV column or attribute is absent. These mirror
// the per-package constants already chosen in caqm/flowcontrol/transport/ldst.
const (
	DefaultVLNum          = 1
	DefaultMTU            = 4096
	DefaultCbfcCredit     = 64
	DefaultFlitsPerCell   = 1
	DefaultControlGrain   = 40
	DefaultHBMBanks       = 8
	DefaultAllocationTime = time.Nanosecond
	DefaultInterframeGap  = time.Nanosecond
	DefaultLinkRate       = 1e9 // bytes/sec, used if topology.csv omits bandwidth
	DefaultLdstThreadFan  = 4   // threads used per dispatched MEM_STORE/MEM_LOAD task
)

// Node is one assembled simulation node: a switch classifier, its
// ports, and (for DEVICE nodes) the URMA/LDST endpoints a task may be
// dispatched against.
type Node struct {
	ID   int
	Kind string // DEVICE or SWITCH

	Switch *switchnode.Switch
	Ports  map[int]*port.Port

	URMA *urma.Endpoint
	LDST *ldst.Instance
	HBM  *hbm.Controller

	nextJettyID uint16
	jettyOf     map[int]uint16 // peer node -> jetty id, lazily assigned
}

// Simulation is the process-wide assembled run: the shared kernel, the
// attribute store, and every node keyed by id.
type Simulation struct {
	K     *simkernel.Kernel
	Attrs *attrs.Store
	Nodes map[int]*Node
	Trace trace.Recorder

	tpRoute map[[3]int]uint32 // (srcNode, dstNode, priority) -> tpn on srcNode
	tpAny   map[[2]int]uint32 // (srcNode, dstNode) -> any tpn on srcNode

	phaseTasks     map[int][]uint64
	phaseRemaining map[int]int
	taskPhase      map[uint64]int
	pendingDeps    map[uint64]map[int]bool
	waitingOnPhase map[int][]uint64
	dispatchFn     map[uint64]func()
	taskDelay      map[uint64]time.Duration

	faultsByTask map[uint64]csvconfig.FaultRow
}

// TPAborted implements transport.Aborter: spec.md §7 treats retransmit
// exhaustion as fatal.
func (sim *Simulation) TPAborted(tpn uint32) {
	log.Fatalf("node: TP %d aborted after exhausting retransmit attempts", tpn)
}

// BuildFromConfig loads every CSV under dir and returns a fully wired
// Simulation ready for Run. The attribute file, if present at
// dir/attrs.txt, is loaded before any CSV.
func BuildFromConfig(dir string) (*Simulation, error) {
	a := loadAttrs(filepath.Join(dir, "attrs.txt"))

	nodeRows, err := csvconfig.LoadNodes(filepath.Join(dir, "node.csv"))
	if err != nil {
		return nil, err
	}
	topoRows, err := csvconfig.LoadTopology(filepath.Join(dir, "topology.csv"))
	if err != nil {
		return nil, err
	}
	routeRows, err := csvconfig.LoadRoutes(filepath.Join(dir, "routing_table.csv"))
	if err != nil {
		return nil, err
	}
	chanRows, err := csvconfig.LoadChannels(filepath.Join(dir, "transport_channel.csv"))
	if err != nil {
		return nil, err
	}
	trafficRows, err := csvconfig.LoadTraffic(filepath.Join(dir, "traffic.csv"))
	if err != nil {
		return nil, err
	}
	faultRows, err := csvconfig.LoadFaults(filepath.Join(dir, "fault.csv"))
	if err != nil {
		return nil, err
	}

	sim := &Simulation{
		K:              simkernel.New(1),
		Attrs:          a,
		Nodes:          make(map[int]*Node),
		Trace:          trace.Discard{},
		tpRoute:        make(map[[3]int]uint32),
		tpAny:          make(map[[2]int]uint32),
		phaseTasks:     make(map[int][]uint64),
		phaseRemaining: make(map[int]int),
		taskPhase:      make(map[uint64]int),
		pendingDeps:    make(map[uint64]map[int]bool),
		waitingOnPhase: make(map[int][]uint64),
		dispatchFn:     make(map[uint64]func()),
		taskDelay:      make(map[uint64]time.Duration),
		faultsByTask:   make(map[uint64]csvconfig.FaultRow),
	}

	if a.Bool(attrs.KeyTraceEnable, false) {
		// xid gives each run its own trace file so a batch of repeated
		// runs against the same config dir never clobbers a prior run's
		// trace.
		runID := xid.New().String()
		w, err := trace.NewWriter(filepath.Join(dir, "runlog", fmt.Sprintf("run-%s.trace", runID)))
		if err != nil {
			return nil, err
		}
		sim.Trace = w
	}

	for _, row := range faultRows {
		sim.faultsByTask[row.TaskID] = row
	}

	if err := sim.buildNodes(nodeRows); err != nil {
		return nil, err
	}
	if err := sim.buildTopology(topoRows); err != nil {
		return nil, err
	}
	sim.buildRoutes(routeRows)
	if err := sim.buildChannels(chanRows); err != nil {
		return nil, err
	}
	if a.Bool(attrs.KeyFaultEnable, len(faultRows) > 0) {
		sim.applyFaults()
	}
	sim.prepareTraffic(trafficRows)

	return sim, nil
}

// loadAttrs tolerates a missing attribute file: it is optional.
func loadAttrs(path string) *attrs.Store {
	a, err := attrs.Load(path)
	if err != nil {
		return attrs.New()
	}
	return a
}

func (sim *Simulation) vlNum() uint8 { return uint8(sim.Attrs.Int(attrs.KeyVLNum, DefaultVLNum)) }
func (sim *Simulation) mtu() int     { return sim.Attrs.Int(attrs.KeyTpMtuBytes, DefaultMTU) }

func (sim *Simulation) ccEnabled() bool {
	return sim.Attrs.Bool(attrs.KeyCCEnabled, true) && sim.Attrs.String(attrs.KeyCCAlgo, "CAQM") == "CAQM"
}

func (sim *Simulation) buildNodes(rows []csvconfig.NodeRow) error {
	for _, row := range rows {
		for _, id := range row.Expand() {
			if _, exists := sim.Nodes[id]; exists {
				return fmt.Errorf("node: duplicate node id %d", id)
			}
			n := &Node{
				ID:      id,
				Kind:    row.Type,
				Ports:   make(map[int]*port.Port),
				jettyOf: make(map[int]uint16),
			}
			usePacketSpray := sim.Attrs.Bool(attrs.KeyUsePacketSpray, false)
			useShortestPaths := sim.Attrs.Bool(attrs.KeyUseShortestPaths, true)
			n.Switch = switchnode.New(id, routetable.New(), usePacketSpray, useShortestPaths)

			if row.Type == "DEVICE" {
				n.URMA = urma.New(id, sim.mtu())
				threadCount := sim.Attrs.Int(attrs.KeyLdstThreadCount, ldst.DefaultThreadCount)
				router := &ldstRouter{sim: sim, node: n}
				n.LDST = ldst.New(id, router, threadCount)
				n.Switch.SetLDST(n.LDST)
				if sim.Attrs.Bool(attrs.KeyHBMEnable, false) {
					n.HBM = hbm.NewController(sim.K, DefaultHBMBanks, hbm.DefaultProcessDelay)
					n.LDST.SetMemoryBank(n.HBM)
				}
			}

			sim.Nodes[id] = n
		}
	}
	return nil
}

func (sim *Simulation) buildTopology(rows []csvconfig.TopologyRow) error {
	for _, row := range rows {
		nodeA, ok := sim.Nodes[row.NodeA]
		if !ok {
			return fmt.Errorf("node: topology.csv references unknown node %d", row.NodeA)
		}
		nodeB, ok := sim.Nodes[row.NodeB]
		if !ok {
			return fmt.Errorf("node: topology.csv references unknown node %d", row.NodeB)
		}

		rate := float64(row.Bandwidth)
		if rate <= 0 {
			rate = DefaultLinkRate
		}
		delay := time.Duration(row.DelayNs)

		portA := sim.buildPort(nodeA, row.PortA, rate)
		portB := sim.buildPort(nodeB, row.PortB, rate)
		port.NewLink(sim.K, delay, portA, portB)
	}
	return nil
}

func (sim *Simulation) buildPort(n *Node, idx int, rate float64) *port.Port {
	if p, ok := n.Ports[idx]; ok {
		return p
	}

	vlNum := sim.vlNum()
	qm := queuemgr.New(fmt.Sprintf("node%d", n.ID), sim.Attrs)
	initCredit := sim.Attrs.Int(attrs.KeyPortCbfcInitCreditCl, DefaultCbfcCredit)
	flitsPerCell := sim.Attrs.Int(attrs.KeyPortFlitsPerCell, DefaultFlitsPerCell)
	fc := flowcontrol.NewCBFC(fmt.Sprintf("node%d", n.ID), idx, vlNum, initCredit, flitsPerCell, sim.mtu(), DefaultControlGrain)

	var cc caqm.Controller = caqm.NoOp{}
	if sim.ccEnabled() {
		cc = caqm.NewSwitch(caqm.DefaultParams(sim.mtu()), sim.K, rate, func() int {
			total := 0
			for vl := uint8(0); vl < vlNum; vl++ {
				total += qm.EgressBytes(idx, vl)
			}
			return total
		})
	}

	alloc := voq.NewAllocator(vlNum)
	allocTime := time.Duration(sim.Attrs.Int(attrs.KeyPortAllocationTimeNs, int(DefaultAllocationTime)))

	p := port.New(fmt.Sprintf("node%d", n.ID), idx, sim.K, rate, DefaultInterframeGap, allocTime, alloc, fc, n.Switch, n.Switch)
	n.Ports[idx] = p
	n.Switch.RegisterPort(idx, qm, fc, cc, alloc, p)
	return p
}

func (sim *Simulation) buildRoutes(rows []csvconfig.RouteRow) {
	for _, row := range rows {
		n, ok := sim.Nodes[row.NodeID]
		if !ok {
			log.Printf("node: routing_table.csv references unknown node %d", row.NodeID)
			continue
		}
		ports, err := row.OutPorts()
		if err != nil {
			log.Printf("node: %v", err)
			continue
		}
		metrics, err := row.Metrics()
		if err != nil {
			log.Printf("node: %v", err)
			continue
		}
		if len(ports) != len(metrics) {
			log.Printf("node: node %d dest %d: mismatched outPorts/metrics lengths", row.NodeID, row.DestIP)
			continue
		}
		min := -1
		for _, m := range metrics {
			if min == -1 || m < min {
				min = m
			}
		}
		for i, p := range ports {
			n.Switch.Routes().AddRoute(row.DestIP, p, metrics[i] == min)
		}
	}
}

func (sim *Simulation) buildChannels(rows []csvconfig.ChannelRow) error {
	for _, row := range rows {
		n1, ok := sim.Nodes[row.Node1]
		if !ok {
			return fmt.Errorf("node: transport_channel.csv references unknown node %d", row.Node1)
		}
		n2, ok := sim.Nodes[row.Node2]
		if !ok {
			return fmt.Errorf("node: transport_channel.csv references unknown node %d", row.Node2)
		}
		sim.buildOneChannel(n1, uint32(row.TPN1), row.Port1, n2, uint32(row.TPN2), uint8(row.Priority))
		sim.buildOneChannel(n2, uint32(row.TPN2), row.Port2, n1, uint32(row.TPN1), uint8(row.Priority))

		sim.tpRoute[[3]int{row.Node1, row.Node2, row.Priority}] = uint32(row.TPN1)
		sim.tpAny[[2]int{row.Node1, row.Node2}] = uint32(row.TPN1)
		sim.tpRoute[[3]int{row.Node2, row.Node1, row.Priority}] = uint32(row.TPN2)
		sim.tpAny[[2]int{row.Node2, row.Node1}] = uint32(row.TPN2)
	}
	return nil
}

func (sim *Simulation) buildOneChannel(n *Node, tpn uint32, portIdx int, peer *Node, dstTPN uint32, vl uint8) {
	if n.URMA == nil {
		return
	}

	var cc caqm.Controller = caqm.NoOp{}
	if sim.ccEnabled() {
		cc = caqm.NewEndpoint(fmt.Sprintf("node%d", n.ID), int(tpn), caqm.DefaultParams(sim.mtu()), sim.K)
	}

	p, ok := n.Ports[portIdx]
	if !ok {
		log.Printf("node: node %d: transport_channel.csv references unregistered port %d", n.ID, portIdx)
		return
	}

	ch := transport.New(sim.K, tpn, dstTPN, n.ID, peer.ID, vl, sim.mtu(), cc, n.URMA, sim)
	n.URMA.RegisterChannel(tpn, ch)
	n.Switch.RegisterTP(tpn, ch)
	n.URMA.RegisterPortTrigger(tpn, p)
	if alloc := n.Switch.Allocator(portIdx); alloc != nil {
		alloc.Register(portIdx, ch.VL, ch)
	}
}

// applyFaults wires each fault.csv row's injector onto the port named
// by its "node port rate" column. DROP/DELAY/ERROR/SHUTDOWN attach a
// port.FaultInjector (DELAY's has no per-packet effect, so no delay is
// applied); LOWER_RATE/CONGESTION reduce the port's line
// rate directly (there is no separate queueing-congestion model).
// SHUTDOWN additionally toggles the injector active over shutdownRange.
func (sim *Simulation) applyFaults() {
	for _, row := range sim.faultsByTask {
		nodeID, portIdx, rate, ok := parseNodePortRate(row.NodePortRate)
		if !ok {
			log.Printf("node: fault.csv: task %d: cannot parse nodePortRate %q", row.TaskID, row.NodePortRate)
			continue
		}
		n, ok := sim.Nodes[nodeID]
		if !ok {
			log.Printf("node: fault.csv: task %d: unknown node %d", row.TaskID, nodeID)
			continue
		}
		p, ok := n.Ports[portIdx]
		if !ok {
			log.Printf("node: fault.csv: task %d: node %d has no port %d", row.TaskID, nodeID, portIdx)
			continue
		}

		kind, ok := faultKind(row.FaultType)
		if !ok {
			log.Printf("node: fault.csv: task %d: unknown faultType %q", row.TaskID, row.FaultType)
			continue
		}

		switch kind {
		case fault.LowerRate, fault.Congestion:
			if rate > 0 {
				p.SetRate(rate)
			}
		default:
			inj := fault.New(fault.Spec{
				TaskID:   row.TaskID,
				Kind:     kind,
				DropPct:  row.DropPct,
				DelayNs:  row.DelayNs,
				RateBps:  rate,
				ErrorPct: row.ErrorPct,
			}, int64(row.TaskID))
			p.SetFault(inj.Callback())
			if kind == fault.Shutdown {
				sim.scheduleShutdown(inj, row.ShutdownRange)
			}
		}
	}
}

func (sim *Simulation) scheduleShutdown(inj *fault.Injector, shutdownRange string) {
	fields := strings.Fields(shutdownRange)
	if len(fields) != 2 {
		log.Printf("node: fault.csv: malformed shutdownRange %q", shutdownRange)
		return
	}
	startNs, err1 := strconv.ParseInt(fields[0], 10, 64)
	endNs, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil || endNs < startNs {
		log.Printf("node: fault.csv: malformed shutdownRange %q", shutdownRange)
		return
	}
	sim.K.ScheduleAt(time.Duration(startNs), func() { inj.SetActive(true) })
	sim.K.ScheduleAt(time.Duration(endNs), func() { inj.SetActive(false) })
}

func parseNodePortRate(raw string) (nodeID, portIdx int, rate float64, ok bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return 0, 0, 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, 0, false
	}
	p, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, 0, false
	}
	var r float64
	if len(fields) >= 3 {
		r, _ = strconv.ParseFloat(fields[2], 64)
	}
	return n, p, r, true
}

func faultKind(s string) (fault.Kind, bool) {
	switch s {
	case "DROP":
		return fault.Drop, true
	case "DELAY":
		return fault.Delay, true
	case "CONGESTION":
		return fault.Congestion, true
	case "SHUTDOWN":
		return fault.Shutdown, true
	case "LOWER_RATE":
		return fault.LowerRate, true
	case "ERROR":
		return fault.Error, true
	default:
		return 0, false
	}
}

// prepareTraffic builds the phase-id dependency graph from traffic.csv
// and schedules every task whose declared dependency phases are
// already satisfied (commonly: no deps at all).
func (sim *Simulation) prepareTraffic(rows []csvconfig.TrafficRow) {
	for _, row := range rows {
		sim.phaseTasks[row.PhaseID] = append(sim.phaseTasks[row.PhaseID], row.TaskID)
		sim.taskPhase[row.TaskID] = row.PhaseID
	}
	for phase, tasks := range sim.phaseTasks {
		sim.phaseRemaining[phase] = len(tasks)
	}

	for _, row := range rows {
		row := row
		deps, err := row.Deps()
		if err != nil {
			log.Printf("node: traffic.csv: task %d: %v", row.TaskID, err)
			continue
		}

		sim.dispatchFn[row.TaskID] = func() { sim.dispatchTask(row) }
		sim.taskDelay[row.TaskID] = time.Duration(row.DelayNs)

		pending := make(map[int]bool)
		for _, depPhase := range deps {
			if sim.phaseRemaining[depPhase] > 0 {
				pending[depPhase] = true
			}
		}
		if len(pending) == 0 {
			sim.scheduleTask(row.TaskID)
			continue
		}
		sim.pendingDeps[row.TaskID] = pending
		for depPhase := range pending {
			sim.waitingOnPhase[depPhase] = append(sim.waitingOnPhase[depPhase], row.TaskID)
		}
	}
}

func (sim *Simulation) scheduleTask(taskID uint64) {
	fn, ok := sim.dispatchFn[taskID]
	if !ok {
		return
	}
	sim.K.ScheduleAt(sim.taskDelay[taskID], fn)
}

// taskFinished is invoked once a dispatched task's traffic has fully
// completed on the wire: it retires the task's phase and, once a phase
// reaches zero remaining, unblocks every task waiting only on it.
func (sim *Simulation) taskFinished(taskID uint64) {
	phase, ok := sim.taskPhase[taskID]
	if !ok {
		return
	}
	sim.phaseRemaining[phase]--
	if sim.phaseRemaining[phase] > 0 {
		return
	}

	waiters := sim.waitingOnPhase[phase]
	delete(sim.waitingOnPhase, phase)
	for _, waiting := range waiters {
		deps, ok := sim.pendingDeps[waiting]
		if !ok {
			continue
		}
		delete(deps, phase)
		if len(deps) == 0 {
			delete(sim.pendingDeps, waiting)
			sim.scheduleTask(waiting)
		}
	}
}

// dispatchTask turns one traffic.csv row into URMA/LDST work on its
// source node.
func (sim *Simulation) dispatchTask(row csvconfig.TrafficRow) {
	src, ok := sim.Nodes[row.SrcNode]
	if !ok {
		log.Printf("node: traffic.csv: task %d: unknown srcNode %d", row.TaskID, row.SrcNode)
		return
	}

	switch row.OpType {
	case "URMA_WRITE":
		sim.dispatchURMA(src, row)
	case "MEM_STORE":
		sim.dispatchLDST(src, row, ldst.Store)
	case "MEM_LOAD":
		sim.dispatchLDST(src, row, ldst.Load)
	default:
		log.Printf("node: traffic.csv: task %d: unknown opType %q", row.TaskID, row.OpType)
	}
}

func (sim *Simulation) dispatchURMA(src *Node, row csvconfig.TrafficRow) {
	if src.URMA == nil {
		log.Printf("node: traffic.csv: task %d: node %d has no URMA endpoint", row.TaskID, src.ID)
		return
	}
	jettyID := sim.jettyFor(src, row.DstNode, uint8(row.Priority))
	src.URMA.PushWqeToJetty(jettyID, &urma.WQE{
		TaskID: row.TaskID,
		Bytes:  row.DataSize,
		Order:  headers.OrderNO,
		Opcode: headers.TAOpcodeWrite,
		OnFinish: func() {
			sim.Trace.RecordTaskEvent(trace.TaskEvent{TaskID: row.TaskID, Node: src.ID, Event: "DONE", Time: sim.K.Now()})
			sim.taskFinished(row.TaskID)
		},
	})
}

// jettyFor returns the jetty src uses to reach dstNode, creating and
// binding it to every matching TP on first use. A node reuses one
// jetty per peer across all priorities seen so far for that peer.
func (sim *Simulation) jettyFor(src *Node, dstNode int, priority uint8) uint16 {
	if id, ok := src.jettyOf[dstNode]; ok {
		return id
	}

	id := src.nextJettyID
	src.nextJettyID++
	src.jettyOf[dstNode] = id
	src.URMA.NewJetty(id, headers.RequesterContext, false)

	if tpn, ok := sim.tpRoute[[3]int{src.ID, dstNode, int(priority)}]; ok {
		src.URMA.BindJettyTP(id, tpn)
	} else if tpn, ok := sim.tpAny[[2]int{src.ID, dstNode}]; ok {
		src.URMA.BindJettyTP(id, tpn)
	} else {
		log.Printf("node: node %d: no transport channel toward node %d", src.ID, dstNode)
	}
	return id
}

func (sim *Simulation) dispatchLDST(src *Node, row csvconfig.TrafficRow, kind ldst.TaskType) {
	if src.LDST == nil {
		log.Printf("node: traffic.csv: task %d: node %d has no LDST endpoint", row.TaskID, src.ID)
		return
	}
	fan := DefaultLdstThreadFan
	if fan > len(src.LDST.Threads()) {
		fan = len(src.LDST.Threads())
	}
	threadIDs := make([]int, fan)
	for i := range threadIDs {
		threadIDs[i] = (int(row.TaskID) + i) % len(src.LDST.Threads())
	}
	src.LDST.HandleLdstTask(row.DstNode, row.DataSize, row.TaskID, kind, threadIDs, 0, func() {
		sim.Trace.RecordTaskEvent(trace.TaskEvent{TaskID: row.TaskID, Node: src.ID, Event: "DONE", Time: sim.K.Now()})
		sim.taskFinished(row.TaskID)
	})
}

// Run advances the simulation to completion: every scheduled event
// (including every dependency-gated traffic.csv task) runs exactly
// once, in timestamp order.
func (sim *Simulation) Run() {
	sim.K.RunToCompletion()
	if w, ok := sim.Trace.(*trace.Writer); ok {
		w.Close()
	}
}

// ldstRouter adapts one node's routing table and switch into the
// ldst.Router capability LDST needs to resolve an egress VL/port and
// to push a one-shot response back into the fabric.
type ldstRouter struct {
	sim  *Simulation
	node *Node
}

// RouteVL always returns VL 0: traffic.csv carries no per-task VL for
// LDST traffic, unlike URMA_WRITE's priority column.
func (r *ldstRouter) RouteVL(dstNode int) uint8 { return 0 }

func (r *ldstRouter) Register(dstNode int, vl uint8, t *ldst.Thread) {
	outPort, ok := r.resolvePort(dstNode, -1)
	if !ok {
		log.Printf("node: node %d: no route to %d for LDST thread registration", r.node.ID, dstNode)
		return
	}
	if alloc := r.node.Switch.Allocator(outPort); alloc != nil {
		alloc.Register(outPort, vl, t)
	}
	if p, ok := r.node.Ports[outPort]; ok {
		p.TriggerTransmit()
	}
}

func (r *ldstRouter) EnqueueResponse(p *packet.Packet) {
	r.node.Switch.Originate(p)
}

func (r *ldstRouter) resolvePort(dstNode, inPort int) (int, bool) {
	useShortest := r.sim.Attrs.Bool(attrs.KeyUseShortestPaths, true)
	dstCNA := uint32(addr.NodeToCNA16(dstNode, -1))
	res, err := r.node.Switch.Routes().GetOutPort(routetable.Key{
		Src: uint32(addr.NodeToCNA16(r.node.ID, -1)),
		Dst: dstCNA,
	}, inPort, useShortest)
	if err != nil {
		return 0, false
	}
	return res.OutPort, true
}
