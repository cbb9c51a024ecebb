// Package scanning provides the port scanning engine for portscout.
//
// A scan resolves a single target to an IPv4 address, plans the order in
// which the requested port range is visited, probes every port over TCP on a
// bounded worker pool, identifies the service behind each open port and
// classifies the overall exposure.
//
// # Main Components
//
//   - Resolver: SystemResolver (net.Resolver) or DNSResolver (miekg/dns
//     against configured nameservers)
//   - Planner: priority scores from static port groups and the sequential,
//     bfs, dfs and adaptive traversal strategies
//   - Prober: TCP connect with optional banner collection
//   - IdentifyService: ordered fingerprint table plus port heuristics
//   - AssessRisk: Safe, Low, Medium or High from the open port set
//   - Engine: ties the above together on a per-scan workers.Pool
//   - ResourceManager: caps the number of scans running at once
//
// # Usage
//
//	engine := scanning.NewEngine(scanning.Options{MaxWorkers: 100})
//
//	req := scanning.DefaultScanRequest()
//	req.Target = "scanme.example.org"
//	req.StartPort, req.EndPort = 1, 1024
//	req.Traversal = "dfs"
//
//	result, err := engine.Scan(ctx, req)
//	if err != nil {
//		// errors.GetCode(err) is UNRESOLVABLE_TARGET, INVALID_REQUEST
//		// or SCAN_EXECUTION
//	}
//
// Per-port failures never surface. A port that refuses, times out or errors
// during banner collection is simply absent from the result.
package scanning
