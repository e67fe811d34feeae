package libfilter

// DefaultLibraries 获取内置第三方库名列表
func DefaultLibraries() []string {
	return []string{
		// ==================== 大厂 SDK ====================
		"android",
		"com.android",
		"com.google",
		"com.facebook",
		"com.adobe",
		"org.apache",
		"com.amazon",
		"com.amazonaws",
		"com.dropbox",
		"com.paypal",
		"twitter4j",
		"mono",
		"gnu",

		// ==================== 通用开源库 ====================
		"org.kobjects",
		"com.squareup",
		"com.appbrain",
		"org.kxml2",
		"org.slf4j",
		"org.jsoup",
		"org.ksoap2",
		"org.xmlpull",
		"com.nineoldandroids",
		"com.actionbarsherlock",
		"com.viewpagerindicator",
		"com.nostra13.universalimageloader",
		"com.appyet",
		"com.fasterxml.jackson",
		"org.anddev.andengine",
		"org.andengine",
		"uk.co.senab.actionbarpulltorefresh",
		"fr.castorflex.android.smoothprogressbar",
		"org.codehaus",
		"org.acra",
		"com.appmk",
		"com.j256.ormlite",
		"nl.siegmann.epublib",
		"pl.polidea",
		"uk.co.senab",
		"com.onbarcode",
		"com.googlecode.apdfviewer",
		"com.badlogic.gdx",
		"com.crashlytics",
		"com.mobeta.android.dslv",
		"com.andromo",
		"oauth.signpost",
		"com.loopj.android.http",
		"com.handmark.pulltorefresh.library",
		"com.bugsense.trace",
		"org.cocos2dx.lib",
		"com.esotericsoftware",
		"javax.inject",
		"com.parse",
		"org.joda.time",
		"com.androidquery",
		"crittercism.android",
		"biz.source_code.base64Coder",
		"v2.com.playhaven",
		"xmlwise",
		"org.springframework",
		"org.scribe",
		"org.opencv",
		"org.dom4j",
		"net.lingala.zip4j",
		"jp.basicinc.gamefeat",
		"gnu.kawa",
		"com.sun.mail",
		"com.playhaven",
		"com.commonsware.cwac",
		"com.comscore",
		"com.koushikdutta",
		"com.mapbar",
		"greendroid",
		"javax",
		"org.intellij",

		// ==================== 广告平台 ====================
		"com.millennialmedia",
		"com.inmobi",
		"com.revmob",
		"com.mopub",
		"com.admob",
		"com.flurry",
		"com.adsdk",
		"com.Leadbolt",
		"com.adwhirl",
		"com.airpush",
		"com.chartboost",
		"com.pollfish",
		"com.getjar",
		"com.jb.gosms",
		"com.sponsorpay",
		"net.nend.android",
		"com.mobclix.android",
		"com.tapjoy",
		"com.adfonic.android",
		"com.applovin",
		"com.adcenix",
		"com.ad_stir",
		"com.madhouse.android.ads",
		"com.waps",
		"net.youmi.android",
		"com.vpon.adon",
		"cn.domob.android.ads",
		"com.wooboo.adlib_android",
		"com.wiyun.ad",

		// ==================== 其他 ====================
		"com.jeremyfeinstein.slidingmenu.lib",
		"com.slidingmenu.lib",
		"it.sephiroth.android.library",
		"com.gtp.nextlauncher.library",
		"jp.co.nobot.libAdMaker",
		"ch.boye.httpclientandroidlib",
		"magmamobile.lib",
		"com.magmamobile",
	}
}
