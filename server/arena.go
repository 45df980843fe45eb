package server

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"slaparena/logger"
	"slaparena/protocol"
)

// 玩法常量
const (
	MaxHealth    = 100
	MaxGas       = 100
	SlapGasCost  = 20
	SlapPoints   = 10
	HitDamage    = 25
	HitBonus     = 50 // 乘以攻击者当前连击
	KillBonus    = 200
	MaxCombo     = 50
	MaxNameRunes = 20
	spawnMargin  = 50
)

// Config 竞技场参数；运行期由 actor 持有，管理接口通过 inbox 修改
type Config struct {
	Width         float64
	Height        float64
	RegenAmount   int
	RegenInterval time.Duration
	ResetDelay    time.Duration
	MeleeRange    float64
	InboundRate   float64 // 每连接每秒消息数
	InboundBurst  int
	Seed          int64
}

func DefaultConfig() Config {
	return Config{
		Width:         800,
		Height:        600,
		RegenAmount:   10,
		RegenInterval: time.Second,
		ResetDelay:    3 * time.Second,
		MeleeRange:    60,
		InboundRate:   30,
		InboundBurst:  60,
	}
}

// Conn 玩家连接的发送端；Enqueue 不得阻塞，返回 false 表示已丢弃
type Conn interface {
	Enqueue(b []byte) bool
	Close()
}

// 入站命令，全部在 actor 协程中处理
type (
	joinCmd struct {
		conn  Conn
		name  string
		reply chan protocol.PlayerID
	}
	leaveCmd struct {
		id protocol.PlayerID
	}
	inputCmd struct {
		id  protocol.PlayerID
		msg protocol.ClientMessage
	}
	snapshotCmd struct {
		reply chan []protocol.PlayerState
	}
	configCmd struct {
		apply func(*Config)
		reply chan Config
	}
)

type limits struct {
	rate  float64
	burst int
}

// Arena 竞技场世界：权威状态只由 Run 协程读写
type Arena struct {
	cfg     Config
	players map[protocol.PlayerID]*Player
	nextID  protocol.PlayerID
	rng     *rand.Rand
	now     func() time.Time

	resetPending bool
	resetTimer   *time.Timer
	resetC       chan struct{}

	inbox   chan any
	quit    chan struct{}
	stopped chan struct{}
	stop    sync.Once

	inbound atomic.Value // limits，读泵在连接建立时读取
	metrics *ArenaMetrics
}

// NewArena 创建竞技场，调用 Run 后开始处理
func NewArena(cfg Config) *Arena {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	// 0 取默认值，负数表示关闭被动回复
	switch {
	case cfg.RegenAmount == 0:
		cfg.RegenAmount = def.RegenAmount
	case cfg.RegenAmount < 0:
		cfg.RegenAmount = 0
	}
	if cfg.RegenInterval <= 0 {
		cfg.RegenInterval = def.RegenInterval
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = def.ResetDelay
	}
	if cfg.MeleeRange <= 0 {
		cfg.MeleeRange = def.MeleeRange
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = def.InboundRate
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = def.InboundBurst
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := &Arena{
		cfg:     cfg,
		players: make(map[protocol.PlayerID]*Player),
		rng:     rand.New(rand.NewSource(seed)),
		now:     time.Now,
		resetC:  make(chan struct{}, 1),
		inbox:   make(chan any, 256), // 足够缓冲，避免网络读阻塞影响世界推进
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		metrics: &ArenaMetrics{},
	}
	a.inbound.Store(limits{rate: cfg.InboundRate, burst: cfg.InboundBurst})
	return a
}

// Metrics 运行指标
func (a *Arena) Metrics() *ArenaMetrics { return a.metrics }

// Join 请求加入，阻塞直到 actor 分配 id；竞技场已停止时返回 0
func (a *Arena) Join(conn Conn, name string) protocol.PlayerID {
	cmd := joinCmd{conn: conn, name: name, reply: make(chan protocol.PlayerID, 1)}
	select {
	case a.inbox <- cmd:
	case <-a.quit:
		return 0
	}
	select {
	case id := <-cmd.reply:
		return id
	case <-a.quit:
		return 0
	}
}

// RequestLeave 请求移除玩家；为保证移除一定生效，阻塞写入直到 actor 接收或停止
func (a *Arena) RequestLeave(id protocol.PlayerID) {
	select {
	case a.inbox <- leaveCmd{id: id}:
	case <-a.quit:
	}
}

// OnInput 入站意图（非阻塞）：拥塞时丢弃，保证世界推进不被背压
func (a *Arena) OnInput(id protocol.PlayerID, msg protocol.ClientMessage) {
	select {
	case a.inbox <- inputCmd{id: id, msg: msg}:
	default:
		a.metrics.IncChanFullDiscarded()
	}
}

// Snapshot 当前名单（按 id 排序）
func (a *Arena) Snapshot() []protocol.PlayerState {
	cmd := snapshotCmd{reply: make(chan []protocol.PlayerState, 1)}
	select {
	case a.inbox <- cmd:
	case <-a.quit:
		return nil
	}
	select {
	case s := <-cmd.reply:
		return s
	case <-a.quit:
		return nil
	}
}

// UpdateConfig 在 actor 中修改配置并返回修改后的值；apply 为 nil 时只读
func (a *Arena) UpdateConfig(apply func(*Config)) (Config, bool) {
	cmd := configCmd{apply: apply, reply: make(chan Config, 1)}
	select {
	case a.inbox <- cmd:
	case <-a.quit:
		return Config{}, false
	}
	select {
	case c := <-cmd.reply:
		return c, true
	case <-a.quit:
		return Config{}, false
	}
}

// Stop 停止 actor 并关闭全部连接
func (a *Arena) Stop() {
	a.stop.Do(func() { close(a.quit) })
	<-a.stopped
}

func (a *Arena) handle(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		c.reply <- a.join(c.conn, c.name)
	case leaveCmd:
		a.leave(c.id)
	case inputCmd:
		a.handleInput(c.id, c.msg)
	case snapshotCmd:
		c.reply <- a.roster()
	case configCmd:
		if c.apply != nil {
			c.apply(&a.cfg)
			a.inbound.Store(limits{rate: a.cfg.InboundRate, burst: a.cfg.InboundBurst})
			logger.Log.Infof("arena config updated: regen=%d melee=%.1f inbound=%.1f/%d",
				a.cfg.RegenAmount, a.cfg.MeleeRange, a.cfg.InboundRate, a.cfg.InboundBurst)
		}
		c.reply <- a.cfg
	}
}

func (a *Arena) join(conn Conn, name string) protocol.PlayerID {
	a.nextID++
	id := a.nextID
	p := &Player{
		ID:         id,
		Name:       sanitizePlayerName(name),
		Health:     MaxHealth,
		Gas:        MaxGas,
		Alive:      true,
		Combo:      1,
		LastAction: a.now(),
		Conn:       conn,
	}
	if p.Name == "" {
		p.Name = defaultName(id)
	}
	p.X, p.Y = a.spawnPoint()
	a.players[id] = p
	a.metrics.IncJoined()

	a.send(p, protocol.InitMessage{
		Type:    protocol.TypeInit,
		ID:      id,
		Arena:   protocol.Bounds{Width: a.cfg.Width, Height: a.cfg.Height},
		Players: a.roster(),
	})
	a.broadcastExcept(id, protocol.PlayerJoinedMessage{Type: protocol.TypePlayerJoined, Player: p.State()})
	logger.Log.Infof("player joined: id=%d name=%q players=%d", id, p.Name, len(a.players))
	return id
}

// leave 移除玩家；重复调用无副作用
func (a *Arena) leave(id protocol.PlayerID) {
	p, ok := a.players[id]
	if !ok {
		return
	}
	delete(a.players, id)
	if p.Conn != nil {
		p.Conn.Close()
	}
	a.metrics.IncLeft()
	a.broadcast(protocol.PlayerLeftMessage{Type: protocol.TypePlayerLeft, ID: id})
	logger.Log.Infof("player left: id=%d players=%d", id, len(a.players))
}

func (a *Arena) spawnPoint() (float64, float64) {
	mx := min(spawnMargin, a.cfg.Width/2)
	my := min(spawnMargin, a.cfg.Height/2)
	x := mx + a.rng.Float64()*(a.cfg.Width-2*mx)
	y := my + a.rng.Float64()*(a.cfg.Height-2*my)
	return x, y
}

// roster 名单按 id 升序，便于客户端与测试比较
func (a *Arena) roster() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(a.players))
	for _, p := range a.players {
		out = append(out, p.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Arena) send(p *Player, msg any) {
	if p.Conn == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Errorf("marshal %T: %v", msg, err)
		return
	}
	if !p.Conn.Enqueue(b) {
		a.metrics.IncSendDropped()
	}
}

// broadcast 序列化一次，写入每个连接的发送队列
func (a *Arena) broadcast(msg any) {
	a.broadcastExcept(0, msg)
}

func (a *Arena) broadcastExcept(skip protocol.PlayerID, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Errorf("marshal %T: %v", msg, err)
		return
	}
	for id, p := range a.players {
		if id == skip || p.Conn == nil {
			continue
		}
		if !p.Conn.Enqueue(b) {
			a.metrics.IncSendDropped()
		}
	}
}
