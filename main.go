package main

import (
	"context"
	"flag"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	_ "net/http/pprof" // Support profiling

	_ "github.com/mkevac/debugcharts"

	"github.com/ubfabric/ubsim/node"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	configDir = flag.String("config", ".", "Directory containing node.csv, topology.csv, routing_table.csv, transport_channel.csv, traffic.csv and the optional attrs.txt/fault.csv")
	promPort  = flag.String("prom", ":9090", "Prometheus metrics export address and port")
)

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	sim, err := node.BuildFromConfig(*configDir)
	rtx.Must(err, "Could not build simulation from %s", *configDir)

	log.Printf("ubsim: %d nodes loaded, running to completion", len(sim.Nodes))
	sim.Run()
	log.Printf("ubsim: finished at virtual time %s (%d events run)", sim.K.Now(), sim.K.EventsRun())
}
