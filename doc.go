// Package govqmt drives the MSU VQMT video quality engine (libvqmt.so)
// from Go.
//
// An Engine is loaded once per process. It answers catalog queries and
// creates Jobs from a configuration document built with Config or given as
// a RawConfig. A Job moves through the milestones PrepareStart,
// PrepareComplete, MeasureComplete and TotalComplete as the engine reports
// progress; results are only readable once the milestone they depend on has
// been observed.
//
//	engine, err := govqmt.Find("")
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	cfg := govqmt.NewConfig(nil)
//	cfg.AddMetric("psnr", govqmt.MetricOptions{Component: "Y"})
//	cfg.AddFile("ref.mp4", govqmt.FileOptions{})
//	cfg.AddFile("dist.mp4", govqmt.FileOptions{})
//
//	job, err := engine.Invoke(cfg)
//	if err != nil {
//		return err
//	}
//	defer job.Close()
//	if !job.Valid() {
//		return job.InitError()
//	}
//	status, err := job.Start()
//	values, err := job.ValuesArray()
//
// Event, value and input callbacks run on engine threads. Observers must not
// block and may run concurrently with the caller.
package govqmt
