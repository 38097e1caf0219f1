// Package hardware provides the lifecycle shared by all hardware adapters.
//
// An adapter embeds *Base, which owns the running flag, the background
// goroutines, the heartbeat and the path to the mainworker. The Manager
// builds adapters through a Factory from the hardware section of the
// configuration, starts them concurrently and restarts any adapter whose
// heartbeat is older than its configured timeout.
//
// # Usage
//
//	factory := hardware.NewFactory()
//	factory.Register(p1.TypeName, p1.New)
//	factory.Register(tuya.TypeName, tuya.New)
//
//	mgr := hardware.NewManager(factory, worker)
//	mgr.SetLogger(log)
//	mgr.AddListener(notifier)
//	if err := mgr.Load(cfg.Hardware); err != nil {
//	    log.Warn("some hardware could not be created", "error", err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Warn("some hardware failed to start", "error", err)
//	}
//	defer mgr.Stop()
package hardware
