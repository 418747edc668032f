// Command signsignal prints a signed leader alert for a trade, ready to be
// pasted into the leader chat.
//
//	signsignal -secret k -symbol BTCUSD -side buy -size 1 -price 50000 -leverage 10
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"copybot/internal/config"
	"copybot/internal/signal"
)

func main() {
	var (
		secret  = flag.String("secret", "", "shared signing secret (default $"+config.EnvSignalSecret+")")
		length  = flag.Int("length", signal.DefaultSignatureLength, "signature length in hex chars")
		marker  = flag.String("marker", signal.DefaultMarker, "alert marker text")
		plain   = flag.Bool("plain", false, "emit the loose SIGNAL: form instead of a spoiler")
		envFile = flag.String("env", ".env", "dotenv file (missing is fine)")
	)
	var s signal.Signal
	flag.StringVar(&s.Symbol, "symbol", "", "instrument, e.g. BTCUSD")
	flag.StringVar(&s.Side, "side", "", "buy or sell")
	flag.Float64Var(&s.Size, "size", 0, "position size")
	flag.Float64Var(&s.Price, "price", 0, "entry price")
	flag.Float64Var(&s.Leverage, "leverage", 1, "leverage")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fail(err)
	}
	if *secret == "" {
		*secret = os.Getenv(config.EnvSignalSecret)
	}
	if s.Symbol == "" || s.Side == "" {
		fail(fmt.Errorf("-symbol and -side are required"))
	}

	auth, err := signal.NewAuthenticator(*secret, *length)
	if err != nil {
		fail(err)
	}
	s.Signature = auth.Sign(s)
	raw, err := json.Marshal(s)
	if err != nil {
		fail(err)
	}
	// the bot would drop anything its codec rejects
	if _, err := signal.NewCodec(*marker, "leader", 0).Parse(string(raw)); err != nil {
		fail(err)
	}

	if *plain {
		fmt.Printf("%s\nSIGNAL: %s\n", *marker, raw)
		return
	}
	fmt.Printf("%s\n<tg-spoiler>SIGNAL: %s</tg-spoiler>\n", *marker, raw)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "signsignal:", err)
	os.Exit(2)
}
