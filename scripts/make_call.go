package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/voxbridge/pkg/config"
	"github.com/harunnryd/voxbridge/pkg/telephony"
)

func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	flag.Parse()
	if *to == "" {
		fmt.Println("usage: make_call -to=+456 [-from=+123] [-config=...]")
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	caller := *from
	if caller == "" {
		caller = cfg.Twilio.PhoneNumber
	}
	url := *voiceURL
	if url == "" && cfg.Server.PublicURL != "" {
		base := strings.TrimRight(cfg.Server.PublicURL, "/")
		if !strings.HasPrefix(base, "http") {
			base = "https://" + base
		}
		url = base + cfg.Server.VoicePath
	}
	dialer := telephony.NewDialer(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	sid, err := dialer.Dial(context.Background(), *to, caller, url)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	fmt.Println("call created:", sid)
}
