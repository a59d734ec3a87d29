package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"reentry"
)

func main() {
	sleepFor := flag.Duration("sleep", 300*time.Millisecond, "how long the first task sleeps")
	limit := flag.Duration("timeout", 100*time.Millisecond, "timeout applied to the slow task in the race demo")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	maxDepth := flag.Int("max-nested-depth", reentry.DefaultMaxNestedDepth, "maximum nested run depth")
	flag.Parse()

	log := logrus.New()
	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log.SetLevel(lvl)

	rt := reentry.New(
		reentry.WithLogger(log),
		reentry.WithMaxNestedDepth(*maxDepth),
	)

	root := reentry.Chain(
		reentry.Do(func() { log.Info("I am sleepy!") }),
		reentry.Sleep(*sleepFor),
		reentry.Do(func() { log.Info("I am awake, I am awake!") }),
		raceDemo(log, 10*(*limit), *limit),
	)

	if err := rt.Run(root); err != nil {
		log.WithError(err).Fatal("runtime failed")
	}
}

// raceDemo races a slow sleep against a timeout. When the timer wins, the
// sleeper is destroyed and its timer cancellation drains through a nested
// frame before the race reports; run with -log-level=debug to watch the
// frames push and pop.
func raceDemo(log *logrus.Logger, slow, limit time.Duration) reentry.Operation {
	var child *reentry.Task
	return func(t *reentry.Task) reentry.Result {
		if child == nil {
			log.WithFields(logrus.Fields{"slow": slow, "limit": limit}).
				Info("racing a slow sleep against a timeout")
			child = t.Spawn(reentry.WithTimeout(reentry.Sleep(slow), limit))
			return t.Await()
		}
		if !child.Terminal() {
			return t.Await()
		}
		switch err := child.Err(); {
		case errors.Is(err, reentry.ErrTimeout):
			log.Info("timed out; the loser's cleanup has already drained")
		case err != nil:
			return t.Fail(err)
		default:
			log.Info("slow sleep finished before the timeout")
		}
		return t.End()
	}
}
