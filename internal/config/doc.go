// Package config provides configuration parsing for netsyncd.
//
// The configuration is stored in netsync.json. Durations are Go duration
// strings; missing fields take the defaults returned by New.
//
// # Configuration File Structure
//
//	{
//	  "listen": ":7777",
//	  "tickRate": "16ms",
//	  "logLevel": "info",
//	  "transport": {
//	    "sendInterval": "0s",
//	    "maxPacketSize": 1200,
//	    "packetHistory": 256
//	  },
//	  "ping": {
//	    "interval": "100ms",
//	    "statsWindow": "2s"
//	  },
//	  "metrics": {
//	    "namespace": "netsync"
//	  },
//	  "capture": {
//	    "enabled": true,
//	    "bucket": "netsync-captures",
//	    "prefix": "captures/"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.LoadFile("netsync.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
