package task

import (
	"fmt"
	"time"

	"noteblockdj.ai/internal/agent"
	"noteblockdj.ai/internal/geom"
)

const (
	stuckAfter    = 30 * time.Second
	stuckDistance = 0.2
)

// Pathfind walks to a block position using the client's movement primitive.
type Pathfind struct {
	Base
	Goal     geom.BlockPos
	GoalName string

	now             Clock
	calculating     bool
	waitingForStart bool
	lastMoveAt      time.Time
	lastPos         *geom.Vec3
}

func NewPathfind(goal geom.BlockPos, goalName string, now Clock) *Pathfind {
	return &Pathfind{Goal: goal, GoalName: goalName, now: orNow(now)}
}

func (p *Pathfind) String() string {
	if p.calculating {
		return fmt.Sprintf("Pathfind (calculating path to %s)", p.GoalName)
	}
	return fmt.Sprintf("Pathfind (walking to %s)", p.GoalName)
}

func (p *Pathfind) Start(c agent.Client) error {
	if calc, active := c.Pathfinding(); calc || active {
		logger.Printf("Pathfinding already in progress, aborting it before going to %s", p.GoalName)
		c.StopPathfinding()
	}
	c.Goto(p.Goal)
	p.calculating, _ = c.Pathfinding()
	p.lastPos = nil
	p.waitingForStart = true
	logger.Printf("Pathfinding to %q...", p.GoalName)
	return nil
}

func (p *Pathfind) Handle(c agent.Client, _ agent.Event) (Outcome, error) {
	calc, active := c.Pathfinding()
	p.calculating = calc
	idle := !calc && !active
	if idle && p.waitingForStart {
		if pos, ok := c.Position(); ok && pos.Block() == p.Goal {
			logger.Printf("Was already at %s", p.GoalName)
			return Succeeded, nil
		}
		return Ongoing, nil
	}
	if !idle {
		p.waitingForStart = false
	}

	if pos, ok := c.Position(); ok {
		now := p.now()
		moved := false
		if p.lastPos != nil {
			moved = pos.DistanceSqr(*p.lastPos) >= stuckDistance*stuckDistance
			if !moved && now.Sub(p.lastMoveAt) > stuckAfter {
				c.StopPathfinding()
				return Failedf("No meaningful movement towards %s for %s, pathfinding is stuck", p.GoalName, stuckAfter), nil
			}
		}
		if p.lastPos == nil || moved {
			p.lastPos = &pos
			p.lastMoveAt = now
		}
	}

	if idle {
		logger.Printf("Arrived at %s!", p.GoalName)
		return Succeeded, nil
	}
	return Ongoing, nil
}

func (p *Pathfind) Stop(c agent.Client) error {
	c.StopPathfinding()
	return nil
}
