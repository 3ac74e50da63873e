// cvcluster runs the decoupled-volume cluster: a spatial scheduler plus N
// volume workers, supervised in one process tree. The same binary serves
// every role, selected with -role; the default supervises the full cluster
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/P11011/Decoupled-CloudVolume/client"
	"github.com/P11011/Decoupled-CloudVolume/cmn"
	"github.com/P11011/Decoupled-CloudVolume/geom"
	"github.com/P11011/Decoupled-CloudVolume/sched"
	"github.com/P11011/Decoupled-CloudVolume/transport"
	"github.com/P11011/Decoupled-CloudVolume/volume"
	"github.com/P11011/Decoupled-CloudVolume/worker"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

const (
	roleSupervisor = "supervisor"
	roleScheduler  = "scheduler"
	roleWorker     = "worker"
	roleDemo       = "demo"
)

var (
	configPath = flag.String("config", "", "cluster config file (JSON); defaults apply when empty")
	role       = flag.String("role", roleSupervisor, "supervisor | scheduler | worker | demo")
	bindAddr   = flag.String("addr", "", "override the scheduler endpoint")
	index      = flag.Int("index", 0, "worker index (role=worker)")
	parallel   = flag.Int("parallel", 4, "fill/decompress thread hint (role=worker)")
	reads      = flag.Int("reads", 10, "number of demo reads (role=demo)")
)

func main() {
	flag.Parse()

	cfg := cmn.GCO.Get()
	if *configPath != "" {
		var err error
		if cfg, err = cmn.LoadConfig(*configPath); err != nil {
			fail(err)
		}
	}
	if *bindAddr != "" {
		c := *cfg
		c.BindAddr = *bindAddr
		cfg = &c
	}

	var err error
	switch *role {
	case roleSupervisor:
		err = runSupervisor(cfg)
	case roleScheduler:
		err = runScheduler(cfg)
	case roleWorker:
		err = runWorker(cfg, *index, *parallel)
	case roleDemo:
		err = runDemo(cfg, *reads)
	default:
		err = fmt.Errorf("unknown role %q", *role)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	glog.Error(err)
	glog.Flush()
	os.Exit(1)
}

///////////////
// scheduler //
///////////////

func runScheduler(cfg *cmn.Config) error {
	r, err := transport.Listen(cfg.BindAddr)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		go sched.ServeMetrics(cfg.MetricsAddr)
	}
	go func() {
		waitForSignal()
		r.Close()
	}()
	return sched.New(cfg, r).Run()
}

////////////
// worker //
////////////

func runWorker(cfg *cmn.Config, idx, parallel int) error {
	vol := volume.NewDemo(parallel)
	w, err := worker.New(cfg.BindAddr, idx, parallel, vol)
	if err != nil {
		return err
	}
	go func() {
		waitForSignal()
		w.Close()
	}()
	err = w.Run()
	glog.Infof("worker %d: exiting: %v", idx, err)
	return nil
}

//////////
// demo //
//////////

// runDemo issues a batch of sequential reads against the demo dataset and
// spot-checks the returned voxels.
func runDemo(cfg *cmn.Config, count int) error {
	vol := volume.NewDemo(0)
	cl, err := client.New(cfg.BindAddr, vol, cfg)
	if err != nil {
		return err
	}
	defer cl.Close()

	box := volume.DemoBox()
	for i := 0; i < count; i++ {
		started := time.Now()
		arr, err := cl.Read(box)
		if err != nil {
			return err
		}
		var (
			got  = arr.At(1, 2, 3, 0)
			want = volume.DemoValue(1, 2, 3, 0)
		)
		glog.Infof("demo: read %d/%d shape=%v in %v, [1,2,3]=%d", i+1, count,
			arr.Shape(), time.Since(started), got)
		if got != want {
			arr.Release()
			return fmt.Errorf("demo: voxel mismatch at (1,2,3): got %d, want %d", got, want)
		}
		if err := arr.Release(); err != nil {
			return err
		}
	}
	// a sub-threshold read stays on the bypass path
	small := geom.BBox{X1: 0, Y1: 0, Z1: 0, X2: 10, Y2: 10, Z2: 1}
	arr, err := cl.Read(small)
	if err != nil {
		return err
	}
	glog.Infof("demo: bypass read shape=%v, [1,2,0]=%d", arr.Shape(), arr.At(1, 2, 0, 0))
	arr.Release()

	glog.Infof("demo: %d reads OK", count)
	glog.Flush()
	return nil
}

////////////////
// supervisor //
////////////////

// runSupervisor re-execs this binary as one scheduler and N workers, then
// monitors the tree. A termination signal is fanned out to every child.
func runSupervisor(cfg *cmn.Config) error {
	glog.Infof("supervisor: starting cluster on %s", cfg.BindAddr)

	procs := make([]*exec.Cmd, 0, 8)
	spawn := func(args ...string) (*exec.Cmd, error) {
		if *configPath != "" {
			args = append(args, "-config="+*configPath)
		}
		args = append(args, "-addr="+cfg.BindAddr, "-logtostderr")
		cmd := exec.Command(os.Args[0], args...)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		procs = append(procs, cmd)
		return cmd, nil
	}

	// scheduler first; workers dial-retry, but there is no point spawning
	// them before the router port is up
	if _, err := spawn("-role=" + roleScheduler); err != nil {
		return err
	}
	if err := waitEndpoint(cfg.BindAddr, 10*time.Second); err != nil {
		return err
	}

	idx := 0
	for _, plan := range cfg.Workers {
		glog.Infof("supervisor: spawning %d workers with parallel=%d", plan.Count, plan.Parallel)
		for i := 0; i < plan.Count; i++ {
			if _, err := spawn("-role="+roleWorker,
				fmt.Sprintf("-index=%d", idx), fmt.Sprintf("-parallel=%d", plan.Parallel)); err != nil {
				return err
			}
			idx++
		}
	}
	glog.Infof("supervisor: cluster ready: 1 scheduler + %d workers", idx)

	go func() {
		waitForSignal()
		glog.Info("supervisor: shutting down cluster")
		for _, p := range procs {
			p.Process.Signal(syscall.SIGTERM)
		}
	}()

	var g errgroup.Group
	for _, p := range procs {
		p := p
		g.Go(func() error {
			if err := p.Wait(); err != nil {
				glog.Warningf("supervisor: child %d exited: %v", p.Process.Pid, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// waitEndpoint polls until addr accepts connections.
func waitEndpoint(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		d, err := transport.Dial(addr, []byte("supervisor_probe"))
		if err == nil {
			d.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("scheduler did not come up on %s: %w", addr, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
