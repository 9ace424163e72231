package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zhukovaskychina/xmysql-trx/logger"
	"github.com/zhukovaskychina/xmysql-trx/server/conf"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/database"
	"github.com/zhukovaskychina/xmysql-trx/server/innodb/trx"
	"github.com/zhukovaskychina/xmysql-trx/server/session"
)

const help = `
******************************************************************************************
*帮助:
*1. -- help
*2. -- configPath   指定my.ini配置文件(也支持 .yaml/.yml/.toml)
*3. -- accounts     账户数量
*4. -- workers      并发转账会话数
*5. -- transfers    每个会话的转账次数
******************************************************************************************
`

func main() {
	var (
		configPath string
		accounts   int
		workers    int
		transfers  int
	)
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.IntVar(&accounts, "accounts", 16, "账户数量")
	flag.IntVar(&workers, "workers", 8, "并发转账会话数")
	flag.IntVar(&transfers, "transfers", 200, "每个会话的转账次数")
	flag.Usage = func() { fmt.Fprint(os.Stderr, help) }
	flag.Parse()
	if accounts < 2 {
		accounts = 2
	}

	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(config.LogConfig()); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	logger.Infof("Logger initialized successfully with level: %s", config.LogLevel)

	db, err := database.Open(config)
	if err != nil {
		logger.Errorf("打开数据库失败: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	w := &workload{db: db, accounts: accounts, initial: decimal.NewFromInt(1000)}
	if err := w.setup(); err != nil {
		logger.Errorf("初始化账户失败: %v", err)
		os.Exit(1)
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		seed := int64(i + 1)
		g.Go(func() error { return w.run(ctx, seed, transfers) })
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("转账失败: %v", err)
		os.Exit(1)
	}

	total, err := w.total()
	if err != nil {
		logger.Errorf("汇总余额失败: %v", err)
		os.Exit(1)
	}
	purged := db.TransactionManager().Purge()
	st := db.Stats()

	fmt.Printf("transaction_control: %s\n", db.TransactionManager().GetTransactionControl())
	fmt.Printf("elapsed:             %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("transfers committed: %d\n", w.committed.Load())
	fmt.Printf("transfers retried:   %d\n", w.retried.Load())
	fmt.Printf("commits:             %d\n", st.Commits)
	fmt.Printf("rollbacks:           %d\n", st.Rollbacks)
	fmt.Printf("write conflicts:     %d\n", st.WriteConflicts)
	fmt.Printf("deadlocks:           %d\n", st.Locks.Deadlocks)
	fmt.Printf("lock timeouts:       %d\n", st.Locks.LockTimeouts)
	fmt.Printf("purged versions:     %d\n", st.PurgedActions+uint64(purged))
	fmt.Printf("system change no.:   %d\n", st.SystemChangeNumber)
	fmt.Printf("total balance:       %s (expected %s)\n", total,
		w.initial.Mul(decimal.NewFromInt(int64(accounts))))
}

// workload 账户之间并发转账，总余额保持不变
type workload struct {
	db       *database.Database
	table    *trx.Table
	accounts int
	initial  decimal.Decimal

	committed atomic.Int64
	retried   atomic.Int64
}

func (w *workload) setup() error {
	table, err := w.db.CreateTable("accounts")
	if err != nil {
		return err
	}
	w.table = table

	s, err := w.db.Connect("setup")
	if err != nil {
		return err
	}
	defer w.db.Disconnect(s)

	for i := 0; i < w.accounts; i++ {
		if _, err := w.db.Insert(s, table, []basic.Value{
			basic.NewIntValue(int32(i)), basic.NewDecimalValue(w.initial),
		}); err != nil {
			return err
		}
	}
	return w.db.Commit(s)
}

func accountIs(id int) database.Predicate {
	return func(data []basic.Value) bool {
		return data[0].(basic.IntValue).Int64() == int64(id)
	}
}

func addBalance(delta decimal.Decimal) database.Assignment {
	return func(data []basic.Value) []basic.Value {
		balance := data[1].(basic.DecimalValue).Decimal()
		return []basic.Value{data[0], basic.NewDecimalValue(balance.Add(delta))}
	}
}

func (w *workload) run(ctx context.Context, seed int64, transfers int) error {
	s, err := w.db.Connect(fmt.Sprintf("worker-%d", seed))
	if err != nil {
		return err
	}
	defer w.db.Disconnect(s)

	rnd := rand.New(rand.NewSource(seed))
	for i := 0; i < transfers; i++ {
		from := rnd.Intn(w.accounts)
		to := (from + 1 + rnd.Intn(w.accounts-1)) % w.accounts
		amount := decimal.NewFromInt(int64(rnd.Intn(50) + 1))

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := w.transfer(s, from, to, amount)
			if err == nil {
				w.committed.Add(1)
				break
			}
			if !trx.IsRecoverable(err) && !errors.Is(err, trx.ErrRowNotFound) {
				return err
			}
			w.db.Rollback(s)
			w.retried.Add(1)
		}
	}
	return nil
}

func (w *workload) transfer(s session.Session, from, to int, amount decimal.Decimal) error {
	if err := w.adjust(s, from, amount.Neg()); err != nil {
		return err
	}
	if err := w.adjust(s, to, amount); err != nil {
		return err
	}
	return w.db.Commit(s)
}

// adjust 修改一个账户的余额。两阶段锁下扫描可能错过并发提交的新版本，此时按冲突重试
func (w *workload) adjust(s session.Session, id int, delta decimal.Decimal) error {
	res, err := w.db.Update(s, w.table, accountIs(id), addBalance(delta), []int{1})
	if err != nil {
		return err
	}
	if res.AffectedRows != 1 {
		return errors.Wrapf(trx.ErrWriteConflict, "account %d matched %d rows", id, res.AffectedRows)
	}
	return nil
}

func (w *workload) total() (decimal.Decimal, error) {
	s, err := w.db.Connect("audit")
	if err != nil {
		return decimal.Zero, err
	}
	defer w.db.Disconnect(s)

	rows, err := w.db.Select(s, w.table, nil)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row[1].(basic.DecimalValue).Decimal())
	}
	return sum, w.db.Commit(s)
}
