// Package stagecast is a streaming staging engine that moves
// multidimensional array data between independently sized writer and
// reader process groups, step by step.
//
// M writer processes contribute arbitrary local partitions of a global
// array each step; N reader processes request arbitrary, unrelated
// partitions of the same array. Neither side knows the other's process
// count or decomposition. A step becomes visible to readers only once
// every writer in the group has sealed it, readers admit sealed steps
// in order, and closing the writer group propagates end-of-stream to
// every parked reader.
//
// Typical writer:
//
//	engine, _ := stagecast.Open("stream", stagecast.ModeWrite, group)
//	v, _ := engine.DefineVariable("myArray", stagecast.TypeFloat32, stagecast.Dims{gndx, gndy})
//	for s := 0; s < steps; s++ {
//		engine.BeginStep(stagecast.StepModeAppend, 0)
//		engine.Put(v, sel, block)
//		engine.EndStep()
//	}
//	engine.Close()
//
// Typical reader:
//
//	engine, _ := stagecast.Open("stream", stagecast.ModeRead, group)
//	for {
//		status, _ := engine.BeginStep(stagecast.StepModeNextAvailable, time.Minute)
//		if status != stagecast.StepStatusOK {
//			break
//		}
//		v, _ := engine.InquireVariable("myArray")
//		engine.Get(v, sel, block)
//		engine.EndStep()
//	}
//	engine.Close()
//
// Process groups run in-process as goroutines (NewLocalGroup) or
// against the websocket bridge hub for multi-process deployments.
package stagecast
