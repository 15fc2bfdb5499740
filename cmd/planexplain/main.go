// planexplain is a harness for exercising the wherecore planner without
// a real SQL front end. It reads a JSON fixture describing a tiny
// catalog and a WHERE/ORDER BY/DISTINCT request, runs the planner, and
// prints an EXPLAIN-QUERY-PLAN-style trace of what it chose and why.
//
// It never parses SQL — the fixture already speaks the planner's own
// vocabulary (tables, columns, cursors) — so this stays a harness
// around the library, not a CLI front end for it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/planner"
)

func main() {
	fixturePath := flag.String("fixture", "", "path to a JSON planning fixture")
	verbose := flag.Bool("v", false, "print the full loop/path trace, not just the chosen plan")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: planexplain -fixture path/to/fixture.json [-v]")
		os.Exit(2)
	}

	if err := run(*fixturePath, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "planexplain:", err)
		os.Exit(1)
	}
}

func run(fixturePath string, verbose bool) error {
	f, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}
	b, err := newBuilder(f)
	if err != nil {
		return err
	}
	req, err := b.request(f)
	if err != nil {
		return err
	}

	logMask := common.LevelInfo
	if verbose {
		logMask = common.LevelAll
	}
	p := planner.New(common.DefaultConfig(), logMask)

	plan, err := p.Plan(req)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Print(plan.Trace.Dump())
		fmt.Println("---")
	}
	printPlan(plan, b)
	return nil
}

func printPlan(plan *planner.Plan, b *builder) {
	for i, step := range plan.Steps {
		tableName := ""
		for name, cursor := range b.cursorOf {
			if cursor == step.Cursor {
				tableName = name
				break
			}
		}
		access := "SCAN"
		switch {
		case step.Index != nil:
			access = "SEARCH USING INDEX " + step.Index.Name
		case step.Loop != nil && step.Loop.VTab != nil:
			access = fmt.Sprintf("SEARCH VIRTUAL TABLE USING idxNum=%d idxStr=%q", step.Loop.VTab.IdxNum, step.Loop.VTab.IdxStr)
		}
		dir := ""
		if step.Reverse {
			dir = " (reverse)"
		}
		fmt.Printf("%d %s %s%s\n", i, tableName, access, dir)
	}
	fmt.Printf("order by satisfied: %v\n", plan.OrderBySatisfied)
	fmt.Printf("distinct redundant: %v\n", plan.DistinctRedundant)
}
