package wire

import (
	"Murmur/internal/api"
	"Murmur/internal/api/config"
	"Murmur/internal/api/handler"
	"Murmur/internal/hub"
	"Murmur/internal/job"
	"Murmur/internal/pkg/cron"
	imkafka "Murmur/internal/pkg/kafka"
	immongo "Murmur/internal/pkg/mongo"
	imredis "Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"Murmur/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router    *gin.Engine
	DB        *gorm.DB
	CronMgr   *cron.Manager
	IMService service.IMService
	Notify    imkafka.NotifyProducer
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	convRepo := repository.NewConversationRepo(db)
	userRepo := repository.NewUserRepo(db)
	msgRepo := immongo.NewMessageRepo(mongoDB)
	connStore := imredis.NewConnStore()

	notify, err := imkafka.NewNotifyProducer(cfg)
	if err != nil {
		return nil, err
	}

	imService := service.NewIMService(convRepo, msgRepo, notify, cfg.IM)
	presenceService := service.NewPresenceService(connStore, userRepo, cfg.IM)

	wsHub := hub.NewHub()

	handlers := &api.HandlersGroup{
		IMHandler: handler.NewIMHandler(imService, wsHub),
		WsHandler: handler.NewWsHandler(imService, presenceService, wsHub, cfg.IM),
	}

	router := api.SetupRouter(handlers)

	cronMgr := cron.NewCronManager(job.NewPresenceSweepJob(connStore, userRepo))

	return &ApplicationContainer{
		Router:    router,
		DB:        db,
		CronMgr:   cronMgr,
		IMService: imService,
		Notify:    notify,
	}, nil
}
